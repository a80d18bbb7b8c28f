package observability

import (
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
)

func InitSentry(dsn, environment, release string) error {
	if dsn == "" {
		return nil
	}

	return sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		Release:          release,
		AttachStacktrace: true,
		// Cookies and auth headers carry session tokens.
		SendDefaultPII: false,
	})
}

func FlushSentry() {
	sentry.Flush(2 * time.Second)
}

// CaptureError reports err with the request route attached. It is a no-op
// when Sentry was not initialised.
func CaptureError(r *http.Request, err error) {
	if err == nil {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		if r != nil {
			scope.SetTag("method", r.Method)
			scope.SetTag("path", r.URL.Path)
		}
		sentry.CaptureException(err)
	})
}
