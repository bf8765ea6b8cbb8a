package videotoken

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	pgrepo "github.com/rey45eyh45/daromatx/internal/repo/postgres"
)

var (
	ErrForbidden      = errors.New("video access forbidden")
	ErrLessonNotFound = errors.New("lesson not found")
	ErrNoVideo        = errors.New("lesson has no video attached")
)

const tagHexLen = 32

type LessonStore interface {
	FindByID(ctx context.Context, lessonID int64) (pgrepo.LessonRecord, error)
}

type EntitlementChecker interface {
	Has(ctx context.Context, buyerID, courseID int64) (bool, error)
}

// ObjectSigner presigns GET links for videos stored in the media bucket.
type ObjectSigner interface {
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// FileResolver maps a Telegram file id to its Bot API storage path.
type FileResolver interface {
	ResolveFilePath(ctx context.Context, fileID string) (string, error)
}

// Grant is a short-lived permission to stream one lesson as one buyer. The
// tag binds all three fields together; flipping any of them invalidates it.
type Grant struct {
	LessonID    int64
	BuyerID     int64
	ExpiresAt   time.Time
	Tag         string
	PlaybackURL string
}

type Service struct {
	lessons      LessonStore
	entitlements EntitlementChecker
	signer       ObjectSigner
	files        FileResolver
	botToken     string
	secret       []byte
	ttl          time.Duration
	now          func() time.Time
}

func NewService(lessons LessonStore, entitlements EntitlementChecker, signer ObjectSigner, files FileResolver, botToken, secret string, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Service{
		lessons:      lessons,
		entitlements: entitlements,
		signer:       signer,
		files:        files,
		botToken:     botToken,
		secret:       []byte(secret),
		ttl:          ttl,
		now:          time.Now,
	}
}

// Issue mints a playback grant. Free lessons are open to everyone; paid
// lessons require an entitlement to the lesson's course, and everything
// else is ErrForbidden with no hint about which check failed.
func (s *Service) Issue(ctx context.Context, lessonID, buyerID int64) (Grant, error) {
	if lessonID <= 0 || buyerID <= 0 {
		return Grant{}, ErrForbidden
	}

	lesson, err := s.lessons.FindByID(ctx, lessonID)
	if err != nil {
		if errors.Is(err, pgrepo.ErrLessonNotFound) {
			return Grant{}, ErrLessonNotFound
		}
		return Grant{}, fmt.Errorf("load lesson: %w", err)
	}

	if !lesson.IsFree {
		entitled, err := s.entitlements.Has(ctx, buyerID, lesson.CourseID)
		if err != nil {
			return Grant{}, fmt.Errorf("check entitlement: %w", err)
		}
		if !entitled {
			return Grant{}, ErrForbidden
		}
	}

	playbackURL, err := s.resolvePlaybackURL(ctx, lesson)
	if err != nil {
		return Grant{}, err
	}

	expiresAt := s.now().Add(s.ttl)
	return Grant{
		LessonID:    lessonID,
		BuyerID:     buyerID,
		ExpiresAt:   expiresAt,
		Tag:         s.tag(lessonID, buyerID, expiresAt.Unix()),
		PlaybackURL: playbackURL,
	}, nil
}

// Verify checks a previously issued grant. Expired grants and grants with
// any flipped field are rejected; the comparison is constant-time.
func (s *Service) Verify(lessonID, buyerID, expiresAtUnix int64, tag string) bool {
	if lessonID <= 0 || buyerID <= 0 || tag == "" {
		return false
	}
	if s.now().Unix() > expiresAtUnix {
		return false
	}

	expected := s.tag(lessonID, buyerID, expiresAtUnix)
	return hmac.Equal([]byte(expected), []byte(tag))
}

func (s *Service) resolvePlaybackURL(ctx context.Context, lesson pgrepo.LessonRecord) (string, error) {
	if lesson.VideoFileID != nil && *lesson.VideoFileID != "" {
		if s.files == nil {
			return "", fmt.Errorf("telegram file resolver is not configured")
		}
		path, err := s.files.ResolveFilePath(ctx, *lesson.VideoFileID)
		if err != nil {
			return "", fmt.Errorf("resolve telegram video: %w", err)
		}
		return fmt.Sprintf("https://api.telegram.org/file/bot%s/%s", s.botToken, path), nil
	}

	if lesson.VideoObjectKey != nil && *lesson.VideoObjectKey != "" {
		if s.signer == nil {
			return "", fmt.Errorf("object signer is not configured")
		}
		url, err := s.signer.PresignGet(ctx, *lesson.VideoObjectKey, s.ttl)
		if err != nil {
			return "", fmt.Errorf("presign lesson video: %w", err)
		}
		return url, nil
	}

	return "", ErrNoVideo
}

func (s *Service) tag(lessonID, buyerID, expiresAtUnix int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%d:%d:%d", lessonID, buyerID, expiresAtUnix)
	return hex.EncodeToString(mac.Sum(nil))[:tagHexLen]
}
