package utils

import (
	"encoding/json"
	"net/http"

	"pix-checkout-api/models"
)

func SendErrorResponse(w http.ResponseWriter, status int, message string) {
	SendErrorDetails(w, status, message, nil)
}

// SendErrorDetails writes the error envelope; details is omitted when nil.
func SendErrorDetails(w http.ResponseWriter, status int, message string, details interface{}) {
	writeJSON(w, status, models.APIResponse{
		Success: false,
		Error:   message,
		Details: details,
	})
}

func SendSuccessResponse(w http.ResponseWriter, status int, message string, data interface{}) {
	writeJSON(w, status, models.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
