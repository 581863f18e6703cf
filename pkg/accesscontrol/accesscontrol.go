// Package accesscontrol decides which accounts may propose administrative
// ledger calls (certification issuance and revocation, voucher definitions,
// mints and claim pools).
package accesscontrol

import (
	"errors"
	"fmt"
	"strings"

	"merchant-voucher/pkg/config"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("accesscontrol", fx.Provide(ProvideAuthorizer))

var ErrForbidden = errors.New("accesscontrol: forbidden")

const (
	RoleCertifier = "certifier"
	RoleIssuer    = "issuer"

	Object = "proposal"
)

const defaultModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && r.obj == p.obj && r.act == p.act
`

// defaultPolicies grant each role its proposal kinds. Role membership comes
// from the policy file or Grant.
var defaultPolicies = [][]string{
	{RoleCertifier, Object, "issue"},
	{RoleCertifier, Object, "revoke"},
	{RoleIssuer, Object, "define"},
	{RoleIssuer, Object, "mint"},
	{RoleIssuer, Object, "open-pool"},
}

type Authorizer interface {
	Authorize(subject common.Address, action string) error
}

type Enforcer struct {
	e *casbin.SyncedEnforcer
}

// New loads the model and policy files when configured and falls back to the
// built-in role model otherwise.
func New(modelPath, policyPath string) (*Enforcer, error) {
	var (
		m   model.Model
		err error
	)
	if modelPath != "" {
		m, err = model.NewModelFromFile(modelPath)
	} else {
		m, err = model.NewModelFromString(defaultModel)
	}
	if err != nil {
		return nil, fmt.Errorf("load access model: %w", err)
	}

	var e *casbin.SyncedEnforcer
	if policyPath != "" {
		e, err = casbin.NewSyncedEnforcer(m, fileadapter.NewAdapter(policyPath))
	} else {
		e, err = casbin.NewSyncedEnforcer(m)
	}
	if err != nil {
		return nil, fmt.Errorf("create enforcer: %w", err)
	}

	if policyPath == "" {
		for _, p := range defaultPolicies {
			if _, err := e.AddPolicy(p[0], p[1], p[2]); err != nil {
				return nil, fmt.Errorf("add policy: %w", err)
			}
		}
	}

	return &Enforcer{e: e}, nil
}

func ProvideAuthorizer(cfg *config.Config) (Authorizer, error) {
	e, err := New(cfg.AccessControl.Model, cfg.AccessControl.Policy)
	if err != nil {
		return nil, err
	}
	zap.L().Info("[AccessControl] policies loaded",
		zap.String("model", cfg.AccessControl.Model),
		zap.String("policy", cfg.AccessControl.Policy),
	)
	return e, nil
}

func subject(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

// Grant adds subject to role.
func (e *Enforcer) Grant(addr common.Address, role string) error {
	_, err := e.e.AddGroupingPolicy(subject(addr), role)
	return err
}

func (e *Enforcer) Authorize(addr common.Address, action string) error {
	ok, err := e.e.Enforce(subject(addr), Object, action)
	if err != nil {
		return fmt.Errorf("enforce %s: %w", action, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s may not propose %s", ErrForbidden, addr.Hex(), action)
	}
	return nil
}
