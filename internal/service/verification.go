package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/sakif/wikistore/internal/apperror"
	"github.com/sakif/wikistore/internal/storage"
)

// codeDigits is the length of a verification code. Six digits is the usual
// balance: short enough to type from an email, 10^6 keyspace is plenty for a
// 15-minute window behind a rate limiter.
const codeDigits = 6

// Sender delivers a verification code to an email address. Actual email
// transport is out of scope for this service; production wires an SMTP or
// API-based implementation, development uses LogSender.
type Sender interface {
	Send(ctx context.Context, email, code string) error
}

// LogSender "delivers" codes by logging them. Development only — anyone who
// can read the logs can verify any address.
type LogSender struct {
	Logger *slog.Logger
}

func (l *LogSender) Send(_ context.Context, email, code string) error {
	l.Logger.Info("verification code issued (log sender, dev only)",
		slog.String("email", email),
		slog.String("code", code),
	)
	return nil
}

// VerificationService issues and checks email verification codes.
//
// PRIVACY: the raw email address is never stored. The storage key is a
// SHA-256 hash, so a leaked backend (a public GitHub repo, say) exposes no
// addresses. The address only transits memory on its way to the Sender.
type VerificationService struct {
	store  storage.Adapter
	sender Sender
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewVerificationService creates the service. ttl is how long an issued code
// stays valid.
func NewVerificationService(store storage.Adapter, sender Sender, ttl time.Duration, logger *slog.Logger) *VerificationService {
	return &VerificationService{
		store:  store,
		sender: sender,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// HashEmail canonicalizes an address (trim, lowercase) and hashes it. The
// canonicalization matters: "Alice@Example.com " and "alice@example.com"
// must map to the same stored code.
func HashEmail(email string) string {
	canonical := strings.ToLower(strings.TrimSpace(email))
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// Send issues a fresh code for the address, replacing any earlier one, and
// hands it to the Sender.
func (s *VerificationService) Send(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if err := checkEmail(email); err != nil {
		return err
	}

	code, err := generateCode()
	if err != nil {
		return fmt.Errorf("generating verification code: %w", err)
	}

	emailHash := HashEmail(email)
	expiresAt := s.now().Add(s.ttl)
	if err := s.store.StoreVerificationCode(ctx, emailHash, code, expiresAt); err != nil {
		s.logger.Error("failed to store verification code",
			slog.String("emailHash", emailHash),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("storing verification code: %w", err)
	}

	if err := s.sender.Send(ctx, email, code); err != nil {
		// The stored code is now orphaned; it expires on its own. Delete it
		// anyway so a retry can't collide with a code nobody received.
		if delErr := s.store.DeleteVerificationCode(ctx, emailHash); delErr != nil {
			s.logger.Warn("failed to clean up undelivered code",
				slog.String("emailHash", emailHash),
				slog.String("error", delErr.Error()),
			)
		}
		return fmt.Errorf("sending verification code: %w", err)
	}

	s.logger.Info("verification code sent", slog.String("emailHash", emailHash))
	return nil
}

// Confirm checks a submitted code. A correct code is consumed — verifying
// the same code twice fails the second time. A wrong code returns ok=false
// without consuming, so a typo doesn't burn the real code.
func (s *VerificationService) Confirm(ctx context.Context, email, code string) (bool, error) {
	email = strings.TrimSpace(email)
	if err := checkEmail(email); err != nil {
		return false, err
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return false, apperror.ValidationFailed("code", "verification code is required")
	}

	emailHash := HashEmail(email)
	stored, err := s.store.GetVerificationCode(ctx, emailHash)
	if err != nil {
		return false, fmt.Errorf("getting verification code: %w", err)
	}
	if stored == nil {
		// Absent or expired — same answer either way.
		return false, nil
	}

	if subtle.ConstantTimeCompare([]byte(stored.Code), []byte(code)) != 1 {
		return false, nil
	}

	if err := s.store.DeleteVerificationCode(ctx, emailHash); err != nil {
		// The code matched but we couldn't consume it. Fail the confirmation:
		// a replayable "success" is worse than asking the user to retry.
		return false, fmt.Errorf("consuming verification code: %w", err)
	}

	s.logger.Info("email verified", slog.String("emailHash", emailHash))
	return true, nil
}

func checkEmail(email string) error {
	// Deliverability is the Sender's problem; this only rejects obvious junk.
	at := strings.IndexByte(email, '@')
	if at < 1 || at == len(email)-1 {
		return apperror.ValidationFailed("email", "a valid email address is required")
	}
	return nil
}

func generateCode() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < codeDigits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", codeDigits, n), nil
}
