package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"bidstream/auction"
	"bidstream/models"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidToken       = errors.New("invalid token")
)

// Claims 是平台核發的存取權杖內容
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

type providerOptions struct {
	issuer   string
	tokenTTL time.Duration
}

type ProviderOption func(*providerOptions)

// WithProviderIssuer 設置權杖的簽發者
func WithProviderIssuer(issuer string) ProviderOption {
	return func(o *providerOptions) {
		o.issuer = issuer
	}
}

// WithProviderTokenTTL 設置權杖的有效期限
func WithProviderTokenTTL(d time.Duration) ProviderOption {
	return func(o *providerOptions) {
		o.tokenTTL = d
	}
}

// Provider 是身份提供者：負責帳號註冊、憑證驗證與權杖的核發/驗證。
// 競價核心只透過 Verify 消費它，把它當成不透明的身份來源。
type Provider struct {
	db      *gorm.DB
	secret  []byte
	options providerOptions
}

func NewProvider(db *gorm.DB, secret []byte, opts ...ProviderOption) (*Provider, error) {
	if len(secret) == 0 {
		return nil, errors.New("signing secret cannot be empty")
	}

	options := providerOptions{
		issuer:   "bidstream",
		tokenTTL: 7 * 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &Provider{
		db:      db,
		secret:  secret,
		options: options,
	}, nil
}

// Signup 建立新使用者並回傳使用者與存取權杖。
// email 或使用者名稱已存在時回傳 ErrUserExists。
func (p *Provider) Signup(ctx context.Context, email, username, password string) (models.User, string, error) {
	const op = "Signup"

	email = strings.TrimSpace(strings.ToLower(email))
	username = strings.TrimSpace(username)
	if email == "" || username == "" || password == "" {
		return models.User{}, "", ErrInvalidCredentials
	}

	var count int64
	if result := p.db.WithContext(ctx).Model(&models.User{}).
		Where("email = ? OR username = ?", email, username).
		Count(&count); result.Error != nil {
		return models.User{}, "", fmt.Errorf("[%s] Fail to check existing user, err=%w", op, result.Error)
	}
	if count > 0 {
		return models.User{}, "", ErrUserExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return models.User{}, "", fmt.Errorf("[%s] Fail to hash password, err=%w", op, err)
	}

	user := models.User{
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
	}
	if result := p.db.WithContext(ctx).Create(&user); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return models.User{}, "", ErrUserExists
		}
		return models.User{}, "", fmt.Errorf("[%s] Fail to create user, err=%w", op, result.Error)
	}

	token, err := p.Issue(user)
	if err != nil {
		return models.User{}, "", fmt.Errorf("[%s] Fail to issue token, err=%w", op, err)
	}
	return user, token, nil
}

// Login 驗證憑證並回傳使用者與存取權杖。
// 帳號不存在與密碼錯誤都回傳 ErrInvalidCredentials，不區分兩者。
func (p *Provider) Login(ctx context.Context, email, password string) (models.User, string, error) {
	const op = "Login"

	var user models.User
	if result := p.db.WithContext(ctx).
		Where("email = ?", strings.TrimSpace(strings.ToLower(email))).
		First(&user); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return models.User{}, "", ErrInvalidCredentials
		}
		return models.User{}, "", fmt.Errorf("[%s] Fail to find user, err=%w", op, result.Error)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return models.User{}, "", ErrInvalidCredentials
	}

	token, err := p.Issue(user)
	if err != nil {
		return models.User{}, "", fmt.Errorf("[%s] Fail to issue token, err=%w", op, err)
	}
	return user, token, nil
}

// Issue 為使用者核發 HS256 簽章的存取權杖
func (p *Provider) Issue(user models.User) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Username: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(p.options.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    p.options.issuer,
			Subject:   user.ID.String(),
			ID:        uuid.NewString(),
		},
	})
	return token.SignedString(p.secret)
}

// Verify 驗證權杖並還原為不透明的身份。
// 這是競價核心唯一消費的介面：authenticate(credentials) → identity。
func (p *Provider) Verify(tokenString string) (auction.Identity, error) {
	const op = "Verify"

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return p.secret, nil
	})
	if err != nil {
		return auction.Identity{}, fmt.Errorf("[%s] %w: %w", op, ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return auction.Identity{}, fmt.Errorf("[%s] %w", op, ErrInvalidToken)
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return auction.Identity{}, fmt.Errorf("[%s] %w: invalid subject", op, ErrInvalidToken)
	}
	return auction.Identity{
		ID:          id,
		DisplayName: claims.Username,
	}, nil
}

// UserByID 依 ID 取得使用者
func (p *Provider) UserByID(ctx context.Context, id uuid.UUID) (models.User, error) {
	const op = "UserByID"
	user := models.User{ID: id}
	if result := p.db.WithContext(ctx).First(&user); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return models.User{}, auction.ErrNotFound
		}
		return models.User{}, fmt.Errorf("[%s] Fail to find user, err=%w", op, result.Error)
	}
	return user, nil
}
