package taskname

const (
	// Projector tasks
	ProjectorSync    = "projector:sync"
	ProjectorRebuild = "projector:rebuild"

	// Proposal tasks
	ProposalExpire = "proposal:expire"

	// Snapshot tasks
	SnapshotExport = "snapshot:export"
)
