package server

import (
	"bytes"
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"polyscore/internal/domain"
	"polyscore/internal/engine"
)

type sessionPath struct {
	ID string `path:"id" doc:"Session id"`
}

type sessionOutput struct {
	Body domain.Session `json:"body"`
}

// ownedSession returns the session only when it belongs to the caller; other
// players' sessions look missing.
func ownedSession(ctx context.Context, e engine.Engine, id string) (domain.Session, error) {
	player, authErr := playerFromContext(ctx)
	if authErr != nil {
		return domain.Session{}, authErr
	}
	s, err := e.Get(ctx, id)
	if err != nil {
		return domain.Session{}, err
	}
	if s.PlayerID != player {
		return domain.Session{}, engine.ErrSessionNotFound
	}
	return s, nil
}

func registerSessions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "start-session",
		Method:        http.MethodPost,
		Path:          "/sessions",
		Summary:       "Enter annotation mode",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		Body StartSessionRequest `json:"body"`
	}) (*sessionOutput, error) {
		player, authErr := playerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.StartSession(ctx, engine.StartOptions{
			PlayerID:       player,
			GroundTruthURL: input.Body.GroundTruthURL,
			ImageW:         input.Body.ImageW,
			ImageH:         input.Body.ImageH,
			ContainerW:     input.Body.ContainerW,
			ContainerH:     input.Body.ContainerH,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &sessionOutput{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/sessions/{id}",
		Summary:     "Session snapshot",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *sessionPath) (*sessionOutput, error) {
		s, err := ownedSession(ctx, e, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &sessionOutput{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "restart-session",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/restart",
		Summary:     "Re-enter annotation mode",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *sessionPath) (*sessionOutput, error) {
		if _, err := ownedSession(ctx, e, input.ID); err != nil {
			return nil, handleError(err)
		}
		s, err := e.Restart(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &sessionOutput{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "click",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/clicks",
		Summary:     "Pointer click",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string       `path:"id"`
		Body ClickRequest `json:"body"`
	}) (*sessionOutput, error) {
		if _, err := ownedSession(ctx, e, input.ID); err != nil {
			return nil, handleError(err)
		}
		s, err := e.Click(ctx, input.ID, engine.ClickInput{X: input.Body.X, Y: input.Body.Y, At: input.Body.At})
		if err != nil {
			return nil, handleError(err)
		}
		return &sessionOutput{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "key",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/keys",
		Summary:     "Key press",
		Errors:      []int{http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ID   string     `path:"id"`
		Body KeyRequest `json:"body"`
	}) (*sessionOutput, error) {
		if _, err := ownedSession(ctx, e, input.ID); err != nil {
			return nil, handleError(err)
		}
		s, err := e.Key(ctx, input.ID, input.Body.Key)
		if err != nil {
			return nil, handleError(err)
		}
		return &sessionOutput{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "wheel",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/wheel",
		Summary:     "Scroll gesture",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string       `path:"id"`
		Body WheelRequest `json:"body"`
	}) (*sessionOutput, error) {
		if _, err := ownedSession(ctx, e, input.ID); err != nil {
			return nil, handleError(err)
		}
		s, err := e.Wheel(ctx, input.ID, input.Body.DeltaY, input.Body.Ctrl)
		if err != nil {
			return nil, handleError(err)
		}
		return &sessionOutput{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "viewport",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/viewport",
		Summary:     "Container resize or image load",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body ViewportRequest `json:"body"`
	}) (*sessionOutput, error) {
		if _, err := ownedSession(ctx, e, input.ID); err != nil {
			return nil, handleError(err)
		}
		s, err := e.Viewport(ctx, input.ID, engine.ViewportInput{
			ContainerW: input.Body.ContainerW,
			ContainerH: input.Body.ContainerH,
			ImageW:     input.Body.ImageW,
			ImageH:     input.Body.ImageH,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &sessionOutput{Body: s}, nil
	})

	leave := func(reason string) func(context.Context, *sessionPath) (*struct {
		Body LeaveResponse `json:"body"`
	}, error) {
		return func(ctx context.Context, input *sessionPath) (*struct {
			Body LeaveResponse `json:"body"`
		}, error) {
			if _, err := ownedSession(ctx, e, input.ID); err != nil {
				return nil, handleError(err)
			}
			s, err := e.Leave(ctx, input.ID, reason)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body LeaveResponse `json:"body"`
			}{Body: LeaveResponse{Session: s, Reason: reason}}, nil
		}
	}
	huma.Register(api, huma.Operation{
		OperationID: "ack-session",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/ack",
		Summary:     "Acknowledge the result and leave annotation mode",
		Errors:      []int{http.StatusNotFound},
	}, leave("ack"))
	huma.Register(api, huma.Operation{
		OperationID: "cancel-session",
		Method:      http.MethodDelete,
		Path:        "/sessions/{id}",
		Summary:     "Close annotation mode",
		Errors:      []int{http.StatusNotFound},
	}, leave("cancel"))

	huma.Register(api, huma.Operation{
		OperationID: "overlay",
		Method:      http.MethodGet,
		Path:        "/sessions/{id}/overlay.png",
		Summary:     "Rendered overlay",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
		Responses: map[string]*huma.Response{
			"200": {
				Description: "PNG overlay",
				Content:     map[string]*huma.MediaType{"image/png": {}},
			},
		},
	}, func(ctx context.Context, input *sessionPath) (*struct {
		ContentType string `header:"Content-Type"`
		Body        []byte
	}, error) {
		if _, err := ownedSession(ctx, e, input.ID); err != nil {
			return nil, handleError(err)
		}
		var buf bytes.Buffer
		if err := e.Overlay(ctx, input.ID, &buf); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			ContentType string `header:"Content-Type"`
			Body        []byte
		}{ContentType: "image/png", Body: buf.Bytes()}, nil
	})
}
