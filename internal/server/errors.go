package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/Mehul-Gupta-SMH/PromptProp/internal/domain"
)

// errorBody is the JSON body of every failed request.
type errorBody struct {
	Detail string   `json:"detail"`
	Fields []string `json:"fields,omitempty"`
	Errors []string `json:"errors,omitempty"`
}

// writeError maps err onto a status code and a client-safe body. Generation
// failures become 502 without the provider's raw message.
func (s *Server) writeError(c *gin.Context, err error) {
	status, body := s.classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", c.Request.Method, "path", c.FullPath(), "status", status, "error", err)
	}
	c.AbortWithStatusJSON(status, body)
}

func (s *Server) classify(err error) (int, errorBody) {
	var (
		genErr    *domain.GenerationError
		inputErr  *domain.InvalidInputError
		validErr  *domain.ValidationError
		notFound  *domain.NotFoundError
		fieldErrs validator.ValidationErrors
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
	)

	switch {
	case errors.As(err, &genErr):
		return http.StatusBadGateway, errorBody{Detail: generationDetail(genErr)}
	case errors.As(err, &notFound):
		return http.StatusNotFound, errorBody{Detail: notFound.Error()}
	case errors.As(err, &validErr):
		return http.StatusUnprocessableEntity, errorBody{Detail: validErr.Error(), Errors: validErr.Errors}
	case errors.As(err, &fieldErrs):
		msgs := make([]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
		}
		return http.StatusUnprocessableEntity, errorBody{Detail: "Request validation failed.", Errors: msgs}
	case errors.As(err, &inputErr):
		return http.StatusBadRequest, errorBody{Detail: inputErr.Message, Fields: inputErr.Fields}
	case errors.Is(err, io.EOF):
		return http.StatusBadRequest, errorBody{Detail: "Request body is required."}
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr):
		return http.StatusBadRequest, errorBody{Detail: "Malformed JSON body: " + err.Error()}
	default:
		return http.StatusInternalServerError, errorBody{Detail: "Internal server error."}
	}
}

// generationDetail hides provider payloads, which may echo request content,
// for the catch-all kinds.
func generationDetail(err *domain.GenerationError) string {
	switch err.Kind {
	case domain.GenerationAuthentication, domain.GenerationRateLimit:
		return err.Error()
	case domain.GenerationBadRequest:
		return fmt.Sprintf("Invalid request to %s.", err.Model)
	default:
		return fmt.Sprintf("LLM call failed for %s.", err.Model)
	}
}
