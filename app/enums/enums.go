// Package enums provides type-safe enumeration types for the console state machine.
//
// The enum types are defined as unexported integer types in this file and the go:generate
// directives invoke go-pkgz/enum to create the exported types (*_enum.go) with String, Parse,
// text marshaling and sql Scan/Value support.
//
// Usage:
//
//	view := enums.ViewDashboard
//	fmt.Println(view.String()) // "dashboard"
//
//	mode, err := enums.ParseFormMode("edit")
//	if err != nil {
//	    // handle invalid input
//	}
//
// To regenerate the enum types after modifications:
//
//	go generate ./app/enums
package enums

//go:generate go run github.com/go-pkgz/enum@latest -type view -lower
//go:generate go run github.com/go-pkgz/enum@latest -type formMode -lower
//go:generate go run github.com/go-pkgz/enum@latest -type method

// view represents the active console view.
// Use the exported View type and its constants in actual code.
type view int

const (
	viewDashboard view = iota
	viewForm
	viewDetails
	viewHistory
)

// formMode represents the job form mode, new job or edit of an existing one.
// Use the exported FormMode type and its constants in actual code.
type formMode int

const (
	formModeNone formMode = iota
	formModeCreate
	formModeEdit
)

// method is an HTTP method the remote dispatcher can call.
// Use the exported Method type and its constants in actual code.
type method int

const (
	methodGET method = iota
	methodPOST
	methodPUT
	methodDELETE
)
