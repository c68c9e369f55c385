package httpapi

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"comanda/backend/internal/domain"
)

type AuthManager struct {
	mu        sync.RWMutex
	secret    []byte
	tokenTTL  time.Duration
	userStore UserStore
	users     map[string]credential
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
	UpdateUserRole(ctx context.Context, username string, role string) error
	DeleteUser(ctx context.Context, username string) error
}

type credential struct {
	password string
	answer   string
	role     string
	active   bool
	created  time.Time
}

type staffCustomClaims struct {
	jwtlib.RegisteredClaims
	Role string `json:"role"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, userStore UserStore) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}

	manager := &AuthManager{
		secret:    []byte(secret),
		tokenTTL:  tokenTTL,
		userStore: userStore,
		users:     make(map[string]credential),
	}
	// context.Background() is appropriate here because this is a startup
	// operation that runs before any request context exists.
	manager.bootstrapUsers(context.Background())
	return manager
}

func (a *AuthManager) Login(req domain.LoginRequest) (domain.LoginResponse, error) {
	a.bootstrapUsers(context.Background())
	username := strings.ToLower(strings.TrimSpace(req.Username))
	a.mu.RLock()
	cred, ok := a.users[username]
	a.mu.RUnlock()
	if !ok {
		return domain.LoginResponse{}, errors.New("invalid credentials")
	}

	if !verifyHash(cred.password, req.Password) {
		return domain.LoginResponse{}, errors.New("invalid credentials")
	}
	if !cred.active {
		return domain.LoginResponse{}, errors.New("account is inactive")
	}

	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	token, err := a.sign(username, cred.role, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	return domain.LoginResponse{
		AccessToken: token,
		Role:        cred.role,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

// RecoverPassword resets a password after verifying the account's security
// answer. Failures are deliberately indistinguishable between unknown user
// and wrong answer.
func (a *AuthManager) RecoverPassword(req domain.RecoverPasswordRequest) error {
	a.bootstrapUsers(context.Background())
	username := strings.ToLower(strings.TrimSpace(req.Username))
	if strings.TrimSpace(req.NewPassword) == "" || len(req.NewPassword) < 6 {
		return fmt.Errorf("password must be at least 6 characters")
	}

	a.mu.RLock()
	cred, ok := a.users[username]
	a.mu.RUnlock()
	if !ok || cred.answer == "" || !verifyHash(cred.answer, req.SecurityAnswer) {
		return errors.New("recovery failed")
	}

	passwordHash, err := hashSecret(req.NewPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password")
	}

	if a.userStore != nil {
		if err := a.userStore.UpdateUserPassword(context.Background(), username, passwordHash); err != nil {
			return err
		}
	}

	a.mu.Lock()
	cred.password = passwordHash
	a.users[username] = cred
	a.mu.Unlock()
	return nil
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &staffCustomClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return domain.Actor{}, errors.New("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, errors.New("invalid token subject")
	}
	return domain.Actor{Username: sub, Role: claims.Role}, nil
}

func (a *AuthManager) sign(username, role string, expiresAt time.Time) (string, error) {
	claims := staffCustomClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "comanda",
		},
		Role: role,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *AuthManager) CreateEmployee(req domain.EmployeeCreateRequest) (domain.Employee, error) {
	a.bootstrapUsers(context.Background())
	username := strings.ToLower(strings.TrimSpace(req.Username))
	if username == "" || len(username) < 4 {
		return domain.Employee{}, fmt.Errorf("username must be at least 4 characters")
	}
	if strings.ContainsAny(username, " \t\r\n") {
		return domain.Employee{}, fmt.Errorf("username must not contain spaces")
	}
	if strings.TrimSpace(req.Password) == "" || len(req.Password) < 6 {
		return domain.Employee{}, fmt.Errorf("password must be at least 6 characters")
	}
	role := strings.TrimSpace(req.Role)
	if role == "" {
		role = domain.RoleWaiter
	}
	if role != domain.RoleAdmin && role != domain.RoleWaiter {
		return domain.Employee{}, fmt.Errorf("role must be admin or waiter")
	}

	a.mu.RLock()
	_, exists := a.users[username]
	a.mu.RUnlock()
	if exists {
		return domain.Employee{}, fmt.Errorf("username already exists")
	}

	now := time.Now().UTC()
	passwordHash, err := hashSecret(req.Password)
	if err != nil {
		return domain.Employee{}, fmt.Errorf("failed to hash password")
	}
	answerHash := ""
	if strings.TrimSpace(req.SecurityAnswer) != "" {
		answerHash, err = hashSecret(strings.TrimSpace(req.SecurityAnswer))
		if err != nil {
			return domain.Employee{}, fmt.Errorf("failed to hash security answer")
		}
	}

	if a.userStore != nil {
		err := a.userStore.CreateUser(context.Background(), domain.UserAccount{
			Username:       username,
			Password:       passwordHash,
			SecurityAnswer: answerHash,
			Role:           role,
			Active:         true,
			CreatedAt:      now,
		})
		if err != nil {
			return domain.Employee{}, err
		}
	}

	a.mu.Lock()
	a.users[username] = credential{
		password: passwordHash,
		answer:   answerHash,
		role:     role,
		active:   true,
		created:  now,
	}
	a.mu.Unlock()

	return domain.Employee{
		Username:  username,
		Role:      role,
		Active:    true,
		CreatedAt: now,
	}, nil
}

func (a *AuthManager) UpdateEmployee(username string, req domain.EmployeeUpdateRequest) (domain.Employee, error) {
	a.bootstrapUsers(context.Background())
	username = strings.ToLower(strings.TrimSpace(username))

	a.mu.RLock()
	cred, exists := a.users[username]
	a.mu.RUnlock()
	if !exists {
		return domain.Employee{}, fmt.Errorf("unknown employee")
	}

	if req.Role != nil {
		role := strings.TrimSpace(*req.Role)
		if role != domain.RoleAdmin && role != domain.RoleWaiter {
			return domain.Employee{}, fmt.Errorf("role must be admin or waiter")
		}
		if a.userStore != nil {
			if err := a.userStore.UpdateUserRole(context.Background(), username, role); err != nil {
				return domain.Employee{}, err
			}
		}
		cred.role = role
	}

	if req.Password != nil {
		if strings.TrimSpace(*req.Password) == "" || len(*req.Password) < 6 {
			return domain.Employee{}, fmt.Errorf("password must be at least 6 characters")
		}
		passwordHash, err := hashSecret(*req.Password)
		if err != nil {
			return domain.Employee{}, fmt.Errorf("failed to hash password")
		}
		if a.userStore != nil {
			if err := a.userStore.UpdateUserPassword(context.Background(), username, passwordHash); err != nil {
				return domain.Employee{}, err
			}
		}
		cred.password = passwordHash
	}

	a.mu.Lock()
	a.users[username] = cred
	a.mu.Unlock()

	return domain.Employee{
		Username:  username,
		Role:      cred.role,
		Active:    cred.active,
		CreatedAt: cred.created,
	}, nil
}

func (a *AuthManager) DeleteEmployee(username string) error {
	a.bootstrapUsers(context.Background())
	username = strings.ToLower(strings.TrimSpace(username))

	a.mu.RLock()
	_, exists := a.users[username]
	a.mu.RUnlock()
	if !exists {
		return fmt.Errorf("unknown employee")
	}

	if a.userStore != nil {
		if err := a.userStore.DeleteUser(context.Background(), username); err != nil {
			return err
		}
	}

	a.mu.Lock()
	delete(a.users, username)
	a.mu.Unlock()
	return nil
}

func (a *AuthManager) ListEmployees() []domain.Employee {
	a.bootstrapUsers(context.Background())
	a.mu.RLock()
	result := make([]domain.Employee, 0, len(a.users))
	for username, user := range a.users {
		result = append(result, domain.Employee{
			Username:  username,
			Role:      user.role,
			Active:    user.active,
			CreatedAt: user.created,
		})
	}
	a.mu.RUnlock()
	sort.Slice(result, func(i, j int) bool {
		return result[i].Username < result[j].Username
	})
	return result
}

// bootstrapUsers loads accounts from the user store into the in-memory
// credential cache. It also upgrades any legacy plain-text passwords to
// bcrypt hashes in the store.
func (a *AuthManager) bootstrapUsers(ctx context.Context) {
	if a.userStore == nil {
		return
	}

	users, err := a.userStore.ListUsers(ctx)
	if err != nil || len(users) == 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, user := range users {
		username := strings.ToLower(strings.TrimSpace(user.Username))
		if username == "" {
			continue
		}
		password := user.Password
		if !isSecretHash(password) {
			hashed, err := hashSecret(password)
			if err == nil {
				password = hashed
				_ = a.userStore.UpdateUserPassword(ctx, username, hashed)
			}
		}
		a.users[username] = credential{
			password: password,
			answer:   user.SecurityAnswer,
			role:     user.Role,
			active:   user.Active,
			created:  user.CreatedAt,
		}
	}
}

func verifyHash(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !isSecretHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func hashSecret(value string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(value), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func isSecretHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
