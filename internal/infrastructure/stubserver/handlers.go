package stubserver

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/ucmc/clinic-client/internal/core/domain"
)

const recoveryCodeTTL = 15 * time.Minute

// AuthHandler implements the portal's /api/auth surface.
type AuthHandler struct {
	users    UserRepository
	recovery RecoveryStore
	issuer   *TokenIssuer
	log      zerolog.Logger
}

func NewAuthHandler(users UserRepository, recovery RecoveryStore, issuer *TokenIssuer, log zerolog.Logger) *AuthHandler {
	return &AuthHandler{users: users, recovery: recovery, issuer: issuer, log: log}
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type registerRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	Name     string `json:"nombre" validate:"required"`
	Surname  string `json:"apellidos" validate:"required"`
	Role     string `json:"role" validate:"required,oneof=coordinator professor student"`
	Phone    string `json:"telefono"`
}

type profileRequest struct {
	Name    string `json:"nombre"`
	Surname string `json:"apellidos"`
	Phone   string `json:"telefono"`
	Program string `json:"programa_academico"`
}

type studentRequest struct {
	Email       string `json:"email" validate:"required,email"`
	Name        string `json:"nombre" validate:"required"`
	Surname     string `json:"apellidos" validate:"required"`
	StudentCode string `json:"codigo_estudiante" validate:"required"`
	Program     string `json:"programa_academico"`
	Semester    int    `json:"semestre"`
}

type emailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type verifyCodeRequest struct {
	Email string `json:"email" validate:"required,email"`
	Code  string `json:"code" validate:"required"`
}

type resetPasswordRequest struct {
	Email       string `json:"email" validate:"required,email"`
	Code        string `json:"code" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,min=8"`
}

type tokenResponse struct {
	User         *domain.User `json:"user"`
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token,omitempty"`
	TokenType    string       `json:"token_type"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type verifyCodeResponse struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message"`
}

// Login authenticates a user and returns the token pair.
//
// @Summary      Login
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body      loginRequest  true  "Login credentials"
// @Success      200   {object}  tokenResponse
// @Failure      401   {object}  map[string]string
// @Router       /api/auth/login [post]
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	user, err := h.users.FindByEmail(c.Request().Context(), req.Email)
	if err != nil {
		// Unknown accounts answer like bad passwords: the login form must
		// not reveal which addresses exist.
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid credentials")
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid credentials")
	}
	if !user.Active {
		return echo.NewHTTPError(http.StatusForbidden, "Account disabled")
	}

	access, refresh, err := h.issuer.Issue(user)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tokenResponse{
		User:         user,
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
	})
}

// Refresh exchanges a refresh token for a new access token. The refresh
// token is not rotated.
//
// @Summary      Refresh access token
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body      refreshRequest  true  "Refresh token"
// @Success      200   {object}  tokenResponse
// @Failure      401   {object}  map[string]string
// @Router       /api/auth/refresh [post]
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req refreshRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	userID, _, err := h.issuer.Verify(req.RefreshToken, tokenTypeRefresh)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid refresh token")
	}
	user, err := h.users.FindByID(c.Request().Context(), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid refresh token")
	}

	access, err := h.issuer.IssueAccess(user)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tokenResponse{AccessToken: access, TokenType: "bearer"})
}

// Me returns the authenticated user's profile.
//
// @Summary      Current user
// @Tags         auth
// @Produce      json
// @Success      200  {object}  domain.User
// @Failure      401  {object}  map[string]string
// @Router       /api/auth/me [get]
func (h *AuthHandler) Me(c echo.Context) error {
	userID, _ := c.Get("user_id").(string)
	user, err := h.users.FindByID(c.Request().Context(), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "account no longer exists")
	}
	return c.JSON(http.StatusOK, user)
}

// Register creates an account and signs the new user in directly.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	user, err := h.users.Create(c.Request().Context(), &domain.User{
		Email:        req.Email,
		Name:         req.Name,
		Surname:      req.Surname,
		Role:         req.Role,
		Phone:        req.Phone,
		PasswordHash: string(hash),
		Active:       true,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	access, refresh, err := h.issuer.Issue(user)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, tokenResponse{
		User:         user,
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
	})
}

// UpdateProfile edits the authenticated user's display fields.
func (h *AuthHandler) UpdateProfile(c echo.Context) error {
	var req profileRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}

	userID, _ := c.Get("user_id").(string)
	user, err := h.users.FindByID(c.Request().Context(), userID)
	if err != nil {
		return err
	}

	if req.Name != "" {
		user.Name = req.Name
	}
	if req.Surname != "" {
		user.Surname = req.Surname
	}
	if req.Phone != "" {
		user.Phone = req.Phone
	}
	if req.Program != "" {
		user.Program = req.Program
	}

	updated, err := h.users.Update(c.Request().Context(), user)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, updated)
}

// RequestPasswordReset mails a recovery code. The stub has no mailer; the
// code lands in the log instead.
func (h *AuthHandler) RequestPasswordReset(c echo.Context) error {
	var req emailRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	if _, err := h.users.FindByEmail(c.Request().Context(), req.Email); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "No account found with this email address")
	}

	code, err := recoveryCode()
	if err != nil {
		return err
	}
	if err := h.recovery.Put(c.Request().Context(), req.Email, code, recoveryCodeTTL); err != nil {
		return err
	}

	h.log.Info().Str("email", req.Email).Str("code", code).Msg("recovery code issued")
	return c.JSON(http.StatusOK, messageResponse{Message: "Recovery code sent to your email address."})
}

// VerifyRecoveryCode reports whether the code matches without consuming it.
func (h *AuthHandler) VerifyRecoveryCode(c echo.Context) error {
	var req verifyCodeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	valid, err := h.recovery.Verify(c.Request().Context(), req.Email, req.Code)
	if err != nil {
		return err
	}
	resp := verifyCodeResponse{Valid: valid, Message: "Code verified."}
	if !valid {
		resp.Message = "Invalid or expired recovery code."
	}
	return c.JSON(http.StatusOK, resp)
}

// ResetPassword changes the password after a final code check and consumes
// the code.
func (h *AuthHandler) ResetPassword(c echo.Context) error {
	var req resetPasswordRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	valid, err := h.recovery.Verify(ctx, req.Email, req.Code)
	if err != nil {
		return err
	}
	if !valid {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid or expired recovery code")
	}

	user, err := h.users.FindByEmail(ctx, req.Email)
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	user.PasswordHash = string(hash)
	if _, err := h.users.Update(ctx, user); err != nil {
		return err
	}
	_ = h.recovery.Delete(ctx, req.Email)

	return c.JSON(http.StatusOK, messageResponse{Message: "Password updated successfully."})
}

// ── Coordinator student management ────────────────────────────────────────────

func (h *AuthHandler) ListStudents(c echo.Context) error {
	students, err := h.users.ListByRole(c.Request().Context(), domain.RoleStudent)
	if err != nil {
		return err
	}
	if students == nil {
		students = []domain.User{}
	}
	return c.JSON(http.StatusOK, students)
}

func (h *AuthHandler) RegisterStudent(c echo.Context) error {
	var req studentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	// Students created by a coordinator get a random placeholder password;
	// they reset it through the recovery flow on first sign-in.
	placeholder, err := recoveryCode()
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(placeholder), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	user, err := h.users.Create(c.Request().Context(), &domain.User{
		Email:        req.Email,
		Name:         req.Name,
		Surname:      req.Surname,
		Role:         domain.RoleStudent,
		StudentCode:  req.StudentCode,
		Program:      req.Program,
		Semester:     req.Semester,
		PasswordHash: string(hash),
		Active:       true,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, user)
}

func (h *AuthHandler) UpdateStudent(c echo.Context) error {
	var req studentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	user, err := h.users.FindByID(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	if user.Role != domain.RoleStudent {
		return echo.NewHTTPError(http.StatusNotFound, "student not found")
	}

	user.Email = req.Email
	user.Name = req.Name
	user.Surname = req.Surname
	user.StudentCode = req.StudentCode
	user.Program = req.Program
	user.Semester = req.Semester

	updated, err := h.users.Update(ctx, user)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, updated)
}

func (h *AuthHandler) DeleteStudent(c echo.Context) error {
	ctx := c.Request().Context()
	user, err := h.users.FindByID(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	if user.Role != domain.RoleStudent {
		return echo.NewHTTPError(http.StatusNotFound, "student not found")
	}
	if err := h.users.Delete(ctx, user.ID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// recoveryCode returns a 6-digit numeric code.
func recoveryCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
