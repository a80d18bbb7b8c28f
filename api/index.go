package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"backoffice-serverless/app"
)

var (
	initOnce   sync.Once
	apiRuntime *app.Runtime
	initErr    error
)

func Handler(w http.ResponseWriter, r *http.Request) {
	initOnce.Do(func() {
		apiRuntime, initErr = app.Build(context.Background(), app.Options{LoadDotEnv: false})
	})

	if initErr != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": false,
			"message": "application bootstrap failed",
			"code":    "InternalError",
		})
		return
	}

	apiRuntime.Handler.ServeHTTP(w, r)
}
