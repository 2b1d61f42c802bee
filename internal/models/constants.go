package models

// Task lifecycle statuses.
const (
	StatusNew        = "new"
	StatusProcessing = "processing"
	StatusSuccess    = "success"
	StatusFailed     = "failed"
)

// Error record keys stored in a failed task's meta_data.
const (
	MetaExceptionClass     = "exception-class"
	MetaExceptionMessage   = "exception-message"
	MetaExceptionTrace     = "exception-trace"
	MetaExceptionReference = "exception-reference"
)

// MetaForceProcessing is the meta_data flag asking the drainer to bypass
// preview/dry-run behavior in the executor. It never changes the state
// machine.
const MetaForceProcessing = "force-processing"

// Common type groups used for filtering in observability views.
const (
	GroupProduct    = "product"
	GroupOrders     = "orders"
	GroupCategory   = "category"
	GroupCouponCode = "coupon-code"
)

const (
	// DefaultDrainBatchSize rows fetched per backlog page inside a drain run
	DefaultDrainBatchSize = 50

	// DefaultLeaseMinutes lease granted to a processing task before it is
	// considered stale and reclaimable by a later drain
	DefaultLeaseMinutes = 30

	// DefaultPollSeconds worker loop sleep when the backlog is empty
	DefaultPollSeconds = 5

	// DefaultListLimit cap for admin-facing listings
	DefaultListLimit = 100

	// RetentionMaxAgeDays terminal records older than this are purged
	RetentionMaxAgeDays = 30

	// RetentionSoftAgeDays second-tier age cutoff once the table is over cap
	RetentionSoftAgeDays = 7

	// RetentionMaxRows row cap that triggers the second purge tier
	RetentionMaxRows = 1000

	// RateWindowMinutes default trailing window for throughput accounting
	RateWindowMinutes = 60
)
