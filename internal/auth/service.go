// Package auth 解析 HTTP 请求的调用方钱包，并基于钱包签名签发 JWT。
package auth

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"SynapsePay/internal/clock"
	xerrors "SynapsePay/internal/errors"
	"SynapsePay/internal/identity"
	"SynapsePay/pkg/logger"
)

const defaultTokenTTL = time.Hour

// Service 负责调用方认证与令牌签发。
type Service struct {
	mode     Mode
	secret   []byte
	issuer   string
	ttl      time.Duration
	clock    clock.Clock
	verifier identity.Verifier
	audit    *slog.Logger
}

// Option 定义可选配置。
type Option func(*Service)

// WithClock 指定时钟，测试中用于控制令牌有效期。
func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithVerifier 替换登录签名校验器。
func WithVerifier(v identity.Verifier) Option {
	return func(s *Service) {
		if v != nil {
			s.verifier = v
		}
	}
}

// WithAuditLogger 指定审计日志输出。
func WithAuditLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.audit = l
		}
	}
}

// NewService 构造身份认证服务。
func NewService(cfg Config, opts ...Option) (*Service, error) {
	mode := Mode(strings.ToLower(strings.TrimSpace(string(cfg.Mode))))
	if mode == "" {
		mode = ModeHeader
	}
	svc := &Service{
		mode:     mode,
		issuer:   cfg.Issuer,
		ttl:      cfg.TokenTTL,
		clock:    clock.System{},
		verifier: identity.Ed25519Verifier{},
		audit:    logger.Audit(),
	}
	switch mode {
	case ModeHeader:
	case ModeJWT:
		if strings.TrimSpace(cfg.Secret) == "" {
			return nil, xerrors.New(xerrors.CodeInitializationFailure, "jwt 模式必须配置 secret")
		}
		svc.secret = []byte(cfg.Secret)
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("不支持的认证模式: %s", cfg.Mode))
	}
	if svc.ttl <= 0 {
		svc.ttl = defaultTokenTTL
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc, nil
}

// Mode 返回当前认证模式。
func (s *Service) Mode() Mode { return s.mode }

// LoginMessage 返回钱包登录时需要签名的消息。
func LoginMessage(wallet string, issued int64) []byte {
	return []byte(fmt.Sprintf("SynapsePay Login\nWallet: %s\nIssued: %d", wallet, issued))
}

// Login 校验钱包对登录消息的签名并签发访问令牌。
func (s *Service) Login(ctx context.Context, req LoginRequest) (*Token, error) {
	if s.mode != ModeJWT {
		return nil, ErrLoginUnsupported
	}
	wallet := strings.TrimSpace(req.Wallet)
	if wallet == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "wallet 不能为空")
	}
	now := s.clock.Now()
	issued := time.Unix(req.Issued, 0)
	if skew := now.Sub(issued); skew > LoginWindow || skew < -LoginWindow {
		return nil, ErrLoginExpired
	}
	sig, err := hex.DecodeString(strings.TrimSpace(req.Signature))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "signature 必须是十六进制编码")
	}
	if err := s.verifier.Verify(wallet, LoginMessage(wallet, req.Issued), sig); err != nil {
		s.audit.Warn("login_rejected", slog.String("wallet", wallet), slog.String("error", err.Error()))
		return nil, xerrors.Wrap(CodeInvalidLogin, err, "")
	}

	claims := jwt.RegisteredClaims{
		Subject:   wallet,
		Issuer:    s.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnknown, err, "签发令牌失败")
	}
	s.audit.Info("login", slog.String("wallet", wallet))
	return &Token{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.ttl.Seconds()),
		Wallet:      wallet,
	}, nil
}

// Authenticate 从请求头中解析调用方。未携带凭证时返回 ErrMissingToken。
func (s *Service) Authenticate(authorization, callerHeader string) (string, error) {
	switch s.mode {
	case ModeHeader:
		caller := strings.TrimSpace(callerHeader)
		if caller == "" {
			return "", ErrMissingToken
		}
		return caller, nil
	case ModeJWT:
		raw := strings.TrimSpace(authorization)
		if raw == "" {
			return "", ErrMissingToken
		}
		parts := strings.SplitN(raw, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			return "", ErrInvalidToken
		}
		return s.verify(strings.TrimSpace(parts[1]))
	}
	return "", ErrMissingToken
}

func (s *Service) verify(token string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.clock.Now),
		jwt.WithExpirationRequired(),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return "", xerrors.Wrap(CodeInvalidToken, err, "")
	}
	if claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
