package config

// Validator is implemented by configurations that check and default themselves.
type Validator interface {
	Validate() error
}
