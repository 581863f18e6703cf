package rediskey

import "fmt"

// Proposal keys (shared by the API and the worker)
const (
	ProposalPrefix = "proposal"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildProposalKey returns "proposal:{proposalID}"
func BuildProposalKey(proposalID string) string {
	return NamespaceKey(ProposalPrefix, proposalID)
}
