package response

import (
	"encoding/json"
	"net/http"
)

// Response is the envelope every JSON endpoint returns.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	// Code is the machine-readable error category.
	Code    string `json:"code,omitempty"`
	Warning string `json:"warning,omitempty"`
}

func write(w http.ResponseWriter, statusCode int, body Response) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

func JSON(w http.ResponseWriter, statusCode int, data interface{}) {
	write(w, statusCode, Response{
		Success: statusCode < 400,
		Data:    data,
	})
}

// Partial reports a successful response whose data is incomplete.
func Partial(w http.ResponseWriter, data interface{}, warning string) {
	write(w, http.StatusOK, Response{
		Success: true,
		Data:    data,
		Warning: warning,
	})
}

func Error(w http.ResponseWriter, statusCode int, code, err string) {
	write(w, statusCode, Response{
		Success: false,
		Error:   err,
		Code:    code,
	})
}

func InternalError(w http.ResponseWriter, err string) {
	Error(w, http.StatusInternalServerError, "internal", err)
}
