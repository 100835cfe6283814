package authorization

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mojocn/base64Captcha"
)

const (
	defaultCaptchaTTL    = 3 * time.Minute
	defaultCaptchaDigits = 5
)

// CaptchaChallenge represents an issued captcha image.
type CaptchaChallenge struct {
	ID          string
	ImageBase64 string
	ExpiresAt   time.Time
	TTL         time.Duration
}

// captchaConfig tunes the digit driver. Values come from the environment so
// deployments can trade captcha strength against signup friction.
type captchaConfig struct {
	ttl    time.Duration
	digits int
}

// captchaConfigFromEnv reads CAPTCHA_TTL_SECONDS and CAPTCHA_DIGITS, falling
// back to the defaults on missing or out-of-range values. Digits are clamped
// to 4..8; fewer is guessable, more is unreadable at the fixed image size.
func captchaConfigFromEnv() captchaConfig {
	cfg := captchaConfig{ttl: defaultCaptchaTTL, digits: defaultCaptchaDigits}

	if raw := strings.TrimSpace(os.Getenv("CAPTCHA_TTL_SECONDS")); raw != "" {
		if seconds, err := strconv.Atoi(raw); err == nil && seconds > 0 {
			cfg.ttl = time.Duration(seconds) * time.Second
		}
	}
	if raw := strings.TrimSpace(os.Getenv("CAPTCHA_DIGITS")); raw != "" {
		if digits, err := strconv.Atoi(raw); err == nil {
			if digits < 4 {
				digits = 4
			}
			if digits > 8 {
				digits = 8
			}
			cfg.digits = digits
		}
	}
	return cfg
}

// CaptchaStore manages captcha generation and verification for the register
// and login endpoints.
type CaptchaStore struct {
	mu     sync.Mutex
	driver *base64Captcha.DriverDigit
	store  base64Captcha.Store
	ttl    time.Duration
}

// NewCaptchaStoreFromEnv creates an image-based captcha store configured from
// the environment.
func NewCaptchaStoreFromEnv() *CaptchaStore {
	return newCaptchaStore(captchaConfigFromEnv())
}

func newCaptchaStore(cfg captchaConfig) *CaptchaStore {
	if cfg.ttl <= 0 {
		cfg.ttl = defaultCaptchaTTL
	}
	if cfg.digits <= 0 {
		cfg.digits = defaultCaptchaDigits
	}
	return &CaptchaStore{
		driver: base64Captcha.NewDriverDigit(60, 160, cfg.digits, 0.7, 80),
		store:  base64Captcha.NewMemoryStore(2048, cfg.ttl),
		ttl:    cfg.ttl,
	}
}

// Issue generates a new captcha challenge.
func (s *CaptchaStore) Issue() CaptchaChallenge {
	if s == nil {
		return CaptchaChallenge{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	captcha := base64Captcha.NewCaptcha(s.driver, s.store)
	id, image, _, err := captcha.Generate()
	if err != nil {
		return CaptchaChallenge{}
	}

	imageData := strings.TrimSpace(image)
	if imageData != "" && !strings.HasPrefix(imageData, "data:") {
		imageData = "data:image/png;base64," + imageData
	}

	expiresAt := time.Now().Add(s.ttl)
	return CaptchaChallenge{ID: id, ImageBase64: imageData, ExpiresAt: expiresAt, TTL: s.ttl}
}

// Verify checks whether the supplied captcha answer is valid.
func (s *CaptchaStore) Verify(id, answer string) bool {
	if s == nil {
		return true
	}

	trimmedID := strings.TrimSpace(id)
	trimmedAnswer := strings.TrimSpace(answer)
	if trimmedID == "" || trimmedAnswer == "" {
		return false
	}

	captcha := base64Captcha.NewCaptcha(s.driver, s.store)
	return captcha.Verify(trimmedID, trimmedAnswer, true)
}
