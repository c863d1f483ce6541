package protocol

// Category is a rate limit and client report bucket.
type Category string

const (
	CategoryAll          Category = "all"
	CategoryDefault      Category = "default"
	CategoryError        Category = "error"
	CategoryTransaction  Category = "transaction"
	CategorySpan         Category = "span"
	CategoryLogItem      Category = "log_item"
	CategoryMetricBucket Category = "metric_bucket"
	CategoryProfile      Category = "profile"
	CategoryProfileChunk Category = "profile_chunk"
	CategoryMonitor      Category = "monitor"
	CategoryAttachment   Category = "attachment"
	CategorySession      Category = "session"
	CategoryReplay       Category = "replay"
	CategoryInternal     Category = "internal"
)

// Known reports whether c is a category the server may name explicitly.
// Events in any other category fall under CategoryDefault.
func (c Category) Known() bool {
	switch c {
	case CategoryError, CategoryTransaction, CategorySpan, CategoryLogItem,
		CategoryMetricBucket, CategoryProfile, CategoryProfileChunk,
		CategoryMonitor, CategoryAttachment, CategorySession, CategoryReplay,
		CategoryInternal:
		return true
	}
	return false
}

// Category resolves the data category of events of kind k.
func (k Kind) Category() Category {
	switch k {
	case KindError:
		return CategoryError
	case KindTransaction:
		return CategoryTransaction
	case KindLog:
		return CategoryLogItem
	case KindMetric:
		return CategoryMetricBucket
	case KindSpan:
		return CategorySpan
	case KindProfile:
		return CategoryProfile
	case KindProfileChunk:
		return CategoryProfileChunk
	case KindClientReport:
		return CategoryInternal
	case KindCheckIn:
		return CategoryMonitor
	default:
		return CategoryDefault
	}
}

// CategoryFromItemType maps an item type name used in rate limit headers or
// by callers to its data category. Unknown names map to themselves.
func CategoryFromItemType(name string) Category {
	switch name {
	case "event":
		return CategoryError
	case "log":
		return CategoryLogItem
	case "statsd", "metric":
		return CategoryMetricBucket
	case "check_in":
		return CategoryMonitor
	case "client_report":
		return CategoryInternal
	case "":
		return CategoryAll
	default:
		return Category(name)
	}
}
