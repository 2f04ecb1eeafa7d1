package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// Response — сохранённый ответ команды.
type Response struct {
	Status int
	Body   []byte
}

// Guard реализует протокол idempotency-key для транспортов: занять ключ,
// выполнить команду, сохранить ответ; повтор с тем же телом получает
// сохранённый ответ, повтор с другим телом отклоняется.
type Guard struct {
	repo   domain.IdempotencyRepository
	ttl    time.Duration
	clock  func() time.Time
	logger *log.Entry
}

// NewGuard создаёт guard. ttl<=0 означает domain.DefaultIdempotencyTTL.
func NewGuard(repo domain.IdempotencyRepository, ttl time.Duration, clock func() time.Time) *Guard {
	if ttl <= 0 {
		ttl = domain.DefaultIdempotencyTTL
	}
	if clock == nil {
		clock = time.Now
	}
	return &Guard{
		repo:   repo,
		ttl:    ttl,
		clock:  clock,
		logger: log.WithField("component", "idempotency-guard"),
	}
}

// Begin занимает ключ. Если по ключу уже есть готовый ответ, он возвращается
// вместе с replay=true и команду выполнять не нужно.
func (g *Guard) Begin(key, requestHash string) (resp Response, replay bool, err error) {
	_, err = g.repo.CreateProcessing(key, requestHash, g.clock().UTC().Add(g.ttl))
	switch {
	case err == nil:
		return Response{}, false, nil
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return Response{}, false, err
	case !errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
		return Response{}, false, fmt.Errorf("reserve idempotency key: %w", err)
	}

	record, err := g.repo.Get(key)
	if err != nil {
		return Response{}, false, fmt.Errorf("load idempotency key: %w", err)
	}
	if !record.Replayable() {
		return Response{}, false, domain.ErrIdempotencyInProgress
	}
	return Response{Status: record.HTTPStatus, Body: record.ResponseBody}, true, nil
}

// Complete сохраняет ответ. Ответы 5xx помечают ключ failed, остальные done.
// Ошибка сохранения только логируется: команда уже выполнена.
func (g *Guard) Complete(key string, resp Response) {
	mark := g.repo.MarkDone
	if resp.Status >= http.StatusInternalServerError {
		mark = g.repo.MarkFailed
	}
	if err := mark(key, resp.Body, resp.Status); err != nil {
		g.logger.WithError(err).WithField("key", key).Warn("failed to store idempotent response")
	}
}

// HashRequest считает отпечаток запроса по его частям (владелец, маршрут, тело).
func HashRequest(parts ...[]byte) string {
	h := sha256.New()
	for _, part := range parts {
		_, _ = fmt.Fprintf(h, "%d:", len(part))
		_, _ = h.Write(part)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// NormalizeKey обрезает пробелы; пустой ключ означает, что идемпотентность не запрошена.
func NormalizeKey(key string) string {
	return strings.TrimSpace(key)
}
