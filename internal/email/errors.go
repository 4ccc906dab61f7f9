package email

import "errors"

var (
	// ErrInvalidAddress indicates an empty or syntactically invalid address.
	ErrInvalidAddress = errors.New("invalid email address")

	// ErrInvalidHeader indicates a custom header with an empty name or value.
	ErrInvalidHeader = errors.New("header name and value must not be empty")

	// ErrInvalidCharset indicates a charset name that is not registered with IANA.
	ErrInvalidCharset = errors.New("unsupported charset")

	// ErrInvalidPort indicates a port number outside 1-65535.
	ErrInvalidPort = errors.New("invalid port number")

	// ErrMissingFrom indicates that no From address was set.
	ErrMissingFrom = errors.New("from address required")

	// ErrMissingRecipient indicates that To, Cc and Bcc are all empty.
	ErrMissingRecipient = errors.New("at least one receiver address required")

	// ErrMissingHost indicates that neither a session nor a usable host name is available.
	ErrMissingHost = errors.New("cannot find valid hostname for mail session")

	// ErrSessionInitialized indicates an attempt to change session parameters
	// after a session was resolved or assigned.
	ErrSessionInitialized = errors.New("mail session already initialized")

	// ErrAlreadyBuilt indicates a second Build call on the same Email.
	ErrAlreadyBuilt = errors.New("message already built")

	// ErrContentAssembly wraps I/O and encoding failures while attaching the body.
	ErrContentAssembly = errors.New("failed to assemble message content")
)
