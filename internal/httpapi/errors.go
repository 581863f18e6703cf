package httpapi

import (
	"context"
	"errors"
	"strings"

	"merchant-voucher/pkg/accesscontrol"
	"merchant-voucher/pkg/errutil"
	"merchant-voucher/pkg/gateway"
	"merchant-voucher/services/catalog"
	"merchant-voucher/services/merchant"
	"merchant-voucher/services/projector"
	"merchant-voucher/services/submission"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// bindJSON decodes the request body into obj. A body sent as anything but
// JSON is refused, and failed binding tags are reported per field.
func bindJSON(c *gin.Context, obj any) error {
	if ct := c.ContentType(); ct != "" && ct != binding.MIMEJSON {
		return errutil.UnsupportedMediaType("request body must be "+binding.MIMEJSON, nil)
	}

	err := c.ShouldBindJSON(obj)
	if err == nil {
		return nil
	}

	var invalid validator.ValidationErrors
	if errors.As(err, &invalid) {
		details := make([]errutil.Detail, 0, len(invalid))
		for _, fe := range invalid {
			details = append(details, errutil.Detail{
				Field:   strings.ToLower(fe.Field()[:1]) + fe.Field()[1:],
				Message: "failed on " + fe.Tag(),
			})
		}
		return errutil.ValidationFailed("invalid request body", nil, errutil.WithDetails(details...))
	}
	return errutil.BadRequest("invalid request body", err)
}

// apiError maps domain errors onto errutil statuses.
func apiError(err error) error {
	var base errutil.BaseError
	if errors.As(err, &base) {
		return err
	}

	var gwErr *gateway.Error
	switch {
	case errors.Is(err, submission.ErrInvalidParams):
		return errutil.BadRequest("invalid proposal", err)
	case errors.Is(err, accesscontrol.ErrForbidden):
		return errutil.Forbidden("requester lacks the role for this proposal", err)
	case errors.Is(err, submission.ErrFeatureDisabled):
		return errutil.Forbidden("proposal kind is disabled", err)
	case errors.Is(err, submission.ErrNotFound),
		errors.Is(err, merchant.ErrNotFound),
		errors.Is(err, catalog.ErrNotFound):
		return errutil.NotFound("not found", err)
	case errors.Is(err, submission.ErrNotSubmittable):
		return errutil.Conflict("proposal cannot be confirmed", err)
	case errors.Is(err, projector.ErrLogCorrupted):
		return errutil.ServiceUnavailable("event replay halted", err)
	case errors.As(err, &gwErr), errors.Is(err, gateway.ErrUnexpectedResult):
		return errutil.BadGateway("ledger gateway failed", err)
	case errors.Is(err, context.Canceled):
		return errutil.ClientClosedRequest("request cancelled", err)
	case errors.Is(err, context.DeadlineExceeded):
		return errutil.Timeout("request timed out", err)
	}
	return errutil.Internal("internal error", err)
}

func rejected(p *submission.Proposal) error {
	return errutil.UnprocessableEntity("proposal rejected", nil, errutil.WithDetails(
		errutil.Detail{Field: "reason", Message: p.Reason.String()},
		errutil.Detail{Field: "proposal_id", Message: p.ID},
	))
}
