package handler

const (
	errInternalServer = "Internal server error"
	errTaskNotFound   = "Task not found"
	errInvalidBody    = "Invalid request body"
)
