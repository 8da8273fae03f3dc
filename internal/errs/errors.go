// Package errs classifies failures from the backend collaborators into the
// taxonomy the balance flows act on: whether an operation may be retried by
// the offline queue, and which localized message the client shows.
package errs

import (
	"context"
	"errors"
	"net"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type Kind string

const (
	KindNetwork    Kind = "network"
	KindStore      Kind = "store"
	KindValidation Kind = "validation"
	KindAuth       Kind = "auth"
	KindUnknown    Kind = "unknown"
)

// StoreReason subdivides store failures.
type StoreReason string

const (
	ReasonNone             StoreReason = ""
	ReasonPermissionDenied StoreReason = "permission-denied"
	ReasonNotFound         StoreReason = "not-found"
	ReasonQuotaExceeded    StoreReason = "quota-exceeded"
	ReasonUnavailable      StoreReason = "unavailable"
)

// Sentinels raised by this module's own layers. Store backends wrap their
// native errors with these so classification does not depend on SDK types.
var (
	ErrUnauthenticated  = errors.New("unauthenticated")
	ErrNotFound         = errors.New("document not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrQuotaExceeded    = errors.New("quota exceeded")
	ErrUnavailable      = errors.New("backend unavailable")
	ErrValidation       = errors.New("validation failed")
)

// Classified is the result of running an error through the taxonomy.
type Classified struct {
	Kind        Kind
	Reason      StoreReason
	Retryable   bool
	UserMessage string
	Err         error
}

func (c Classified) Error() string { return c.Err.Error() }
func (c Classified) Unwrap() error { return c.Err }

// User-facing messages, kept distinct from the internal error text.
const (
	MsgUnauthenticated = "Usuario no autenticado. Por favor, inicia sesión nuevamente."
	msgNetwork         = "Sin conexión. Tu operación se guardó y se reintentará automáticamente."
	msgPermission      = "No tienes permisos para realizar esta operación."
	msgNotFound        = "No encontramos la información solicitada."
	msgQuota           = "El servicio está saturado. Intenta nuevamente en unos minutos."
	msgUnavailable     = "El servicio no está disponible. Intenta nuevamente."
	msgValidation      = "Los datos ingresados no son válidos."
	msgUnknown         = "Ocurrió un error inesperado. Intenta nuevamente."
)

// Classify maps an error onto the taxonomy. Retryable classes are the ones
// the offline queue is allowed to replay: network failures, quota and
// availability problems, and anything unrecognized. Auth, validation,
// permission and not-found failures will not improve on retry.
func Classify(err error) Classified {
	if err == nil {
		return Classified{Kind: KindUnknown, Err: errors.New("classify: nil error")}
	}

	switch {
	case errors.Is(err, ErrUnauthenticated):
		return Classified{Kind: KindAuth, Retryable: false, UserMessage: MsgUnauthenticated, Err: err}
	case errors.Is(err, ErrValidation):
		return Classified{Kind: KindValidation, Retryable: false, UserMessage: msgValidation, Err: err}
	case errors.Is(err, ErrPermissionDenied):
		return Classified{Kind: KindStore, Reason: ReasonPermissionDenied, Retryable: false, UserMessage: msgPermission, Err: err}
	case errors.Is(err, ErrNotFound):
		return Classified{Kind: KindStore, Reason: ReasonNotFound, Retryable: false, UserMessage: msgNotFound, Err: err}
	case errors.Is(err, ErrQuotaExceeded):
		return Classified{Kind: KindStore, Reason: ReasonQuotaExceeded, Retryable: true, UserMessage: msgQuota, Err: err}
	case errors.Is(err, ErrUnavailable):
		return Classified{Kind: KindStore, Reason: ReasonUnavailable, Retryable: true, UserMessage: msgUnavailable, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return Classified{Kind: KindNetwork, Retryable: true, UserMessage: msgNetwork, Err: err}
	}

	// Firestore surfaces gRPC status codes.
	if st, ok := status.FromError(err); ok && st.Code() != codes.OK && st.Code() != codes.Unknown {
		switch st.Code() {
		case codes.PermissionDenied:
			return Classified{Kind: KindStore, Reason: ReasonPermissionDenied, Retryable: false, UserMessage: msgPermission, Err: err}
		case codes.NotFound:
			return Classified{Kind: KindStore, Reason: ReasonNotFound, Retryable: false, UserMessage: msgNotFound, Err: err}
		case codes.ResourceExhausted:
			return Classified{Kind: KindStore, Reason: ReasonQuotaExceeded, Retryable: true, UserMessage: msgQuota, Err: err}
		case codes.Unavailable:
			return Classified{Kind: KindStore, Reason: ReasonUnavailable, Retryable: true, UserMessage: msgUnavailable, Err: err}
		case codes.Unauthenticated:
			return Classified{Kind: KindAuth, Retryable: false, UserMessage: MsgUnauthenticated, Err: err}
		case codes.DeadlineExceeded:
			return Classified{Kind: KindNetwork, Retryable: true, UserMessage: msgNetwork, Err: err}
		}
	}

	return Classified{Kind: KindUnknown, Retryable: true, UserMessage: msgUnknown, Err: err}
}

// Retryable reports whether the offline queue may replay the failed
// operation.
func Retryable(err error) bool {
	return Classify(err).Retryable
}
