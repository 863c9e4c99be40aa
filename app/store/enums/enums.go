// Package enums provides closed enumeration types for the ledger schema.
//
// JobStatus, ItemStatus and Filter are generated by go-pkgz/enum from the unexported integer types
// declared below; the generated *_enum.go files hold the exported struct types with String, Parse*,
// MarshalText/UnmarshalText and Scan/Value. Values can only come from the exported variables or
// from the Parse functions, anything unknown is rejected.
//
// Mode is written by hand in mode.go. Its names ("text-to-image", "image-to-image") are part of the
// stored data and can't be derived from Go identifiers by the generator.
//
// Usage:
//
//	status := enums.JobStatusPending
//	fmt.Println(status.String()) // "pending"
//
//	parsed, err := enums.ParseItemStatus("completed")
//	if err != nil {
//	    // unknown status, reject
//	}
//
// To regenerate after changing the declarations below:
//
//	go generate ./app/store/enums
package enums

//go:generate go run github.com/go-pkgz/enum@latest -type jobStatus -lower
//go:generate go run github.com/go-pkgz/enum@latest -type itemStatus -lower
//go:generate go run github.com/go-pkgz/enum@latest -type filter -lower

// jobStatus is the aggregate status of a job, derived from its items.
// Generator input only, use JobStatus.
type jobStatus int

const (
	jobStatusPending jobStatus = iota
	jobStatusProcessing
	jobStatusCompleted
	jobStatusFailed
	jobStatusPartial
)

// itemStatus is the status of a single job item.
// Generator input only, use ItemStatus.
type itemStatus int

const (
	itemStatusPending itemStatus = iota
	itemStatusProcessing
	itemStatusCompleted
	itemStatusFailed
)

// filter selects which jobs a listing returns.
// Generator input only, use Filter.
type filter int

const (
	filterAll filter = iota
	filterActive
)
