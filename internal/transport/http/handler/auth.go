package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/SkywardAI/kirin/internal/app"
	"github.com/SkywardAI/kirin/internal/transport/http/middleware"
	"github.com/SkywardAI/kirin/internal/transport/http/response"
)

type AuthHandler struct {
	authService *app.AuthService
}

type RegisterRequest struct {
	Username string `json:"username" binding:"required,min=3,max=64"`
	Email    string `json:"email" binding:"required,email,max=128"`
	Password string `json:"password" binding:"required,min=8,max=128"`
}

type LoginRequest struct {
	Username string `json:"username" binding:"required,min=3,max=64"`
	Password string `json:"password" binding:"required,min=8,max=128"`
}

func NewAuthHandler(authService *app.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	result, err := h.authService.Register(app.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		case errors.Is(err, app.ErrUsernameExists):
			response.Error(c, http.StatusBadRequest, response.CodeUsernameExists, err.Error())
		case errors.Is(err, app.ErrEmailExists):
			response.Error(c, http.StatusBadRequest, response.CodeEmailExists, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "register failed")
		}
		return
	}

	response.OK(c, gin.H{
		"token": result.Token,
		"account": gin.H{
			"id":       result.Account.ID,
			"username": result.Account.Username,
			"email":    result.Account.Email,
		},
	})
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	result, err := h.authService.Login(app.LoginInput{
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		case errors.Is(err, app.ErrInvalidCredential):
			response.Error(c, http.StatusUnauthorized, response.CodeInvalidCredentials, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "login failed")
		}
		return
	}

	response.OK(c, gin.H{
		"token": result.Token,
		"account": gin.H{
			"id":       result.Account.ID,
			"username": result.Account.Username,
			"email":    result.Account.Email,
		},
	})
}

func (h *AuthHandler) Me(c *gin.Context) {
	accountID, ok := getAccountIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	account, err := h.authService.GetAccountByID(accountID)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "fetch current account failed")
		return
	}
	if account == nil {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "account not found")
		return
	}

	response.OK(c, gin.H{
		"id":       account.ID,
		"username": account.Username,
		"email":    account.Email,
	})
}

func getAccountIDFromContext(c *gin.Context) (uint, bool) {
	accountIDAny, exists := c.Get(middleware.ContextAccountIDKey)
	if !exists {
		return 0, false
	}
	accountID, ok := accountIDAny.(uint)
	return accountID, ok
}

// optionalAccountID returns nil when the request carries no account,
// which the services treat as an anonymous caller.
func optionalAccountID(c *gin.Context) *uint {
	accountID, ok := getAccountIDFromContext(c)
	if !ok {
		return nil
	}
	return &accountID
}
