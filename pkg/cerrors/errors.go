package cerrors

type ErrorType string

const (
	ErrorTypeNonUserFriendly      ErrorType = "NON_USER_FRIENDLY_ERROR"
	ErrorTypeConfigurationMissing ErrorType = "CONFIGURATION_MISSING_ERROR"
	ErrorTypeProvisioning         ErrorType = "PROVISIONING_ERROR"
	ErrorTypePersist              ErrorType = "PERSIST_ERROR"
	ErrorTypeInvalidCommand       ErrorType = "INVALID_COMMAND_ERROR"
	ErrorTypeInvalidTransition    ErrorType = "INVALID_TRANSITION_ERROR"
	ErrorTypeWatchStream          ErrorType = "WATCH_STREAM_ERROR"
)

type userFriendly interface {
	UserFriendly() bool
	ErrorType() ErrorType
}

// IsUserFriendly returns true if err is safe to surface on the command channel
func IsUserFriendly(err error) bool {
	ufe, ok := err.(userFriendly)
	return ok && ufe.UserFriendly()
}

// GetErrorType returns the type of error if the error is user-friendly
func GetErrorType(err error) ErrorType {
	if ufe, ok := err.(userFriendly); ok {
		return ufe.ErrorType()
	}
	return ErrorTypeNonUserFriendly
}
