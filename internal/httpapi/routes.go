package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tmarkov/authgate/internal/authcore"
	"github.com/tmarkov/authgate/internal/service"
)

const subjectContextKey = "auth_subject"

type registerRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	FullName string `json:"full_name"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type userResponse struct {
	ID            uint   `json:"id"`
	Email         string `json:"email"`
	FullName      string `json:"full_name,omitempty"`
	OAuthProvider string `json:"oauth_provider,omitempty"`
}

// MountAuthRoutes registers /auth/register, /auth/login, /auth/:provider/url,
// and /auth/:provider/callback. The handlers are thin dispatch: binding,
// delegation to the orchestrator, and error-to-status translation.
func MountAuthRoutes(router gin.IRouter, orchestrator *service.Service, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}

	router.POST("/auth/register", func(contextGin *gin.Context) {
		var inbound registerRequest
		if bindErr := contextGin.ShouldBindJSON(&inbound); bindErr != nil {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": "Invalid request payload"})
			return
		}
		createdUser, registerErr := orchestrator.Register(contextGin.Request.Context(), inbound.Email, inbound.Password, inbound.FullName)
		if registerErr != nil {
			if clientError, isClient := authcore.AsClientError(registerErr); isClient {
				contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": clientError.Detail})
				return
			}
			logger.Error("registration failed", zap.Error(registerErr))
			contextGin.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"detail": "Internal server error"})
			return
		}
		contextGin.JSON(http.StatusCreated, userResponse{
			ID:       createdUser.ID,
			Email:    createdUser.Email,
			FullName: createdUser.FullName,
		})
	})

	router.POST("/auth/login", func(contextGin *gin.Context) {
		var inbound loginRequest
		if bindErr := contextGin.ShouldBindJSON(&inbound); bindErr != nil {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": "Invalid request payload"})
			return
		}
		tokenResponse, loginErr := orchestrator.PasswordLogin(contextGin.Request.Context(), inbound.Email, inbound.Password)
		if loginErr != nil {
			if clientError, isClient := authcore.AsClientError(loginErr); isClient {
				contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": clientError.Detail})
				return
			}
			logger.Error("password login failed", zap.Error(loginErr))
			contextGin.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"detail": "Internal server error"})
			return
		}
		contextGin.JSON(http.StatusOK, tokenResponse)
	})

	router.GET("/auth/:provider/url", func(contextGin *gin.Context) {
		providerName := contextGin.Param("provider")
		authorizeURL, urlErr := orchestrator.OAuthLoginURL(contextGin.Request.Context(), providerName)
		if urlErr != nil {
			if clientError, isClient := authcore.AsClientError(urlErr); isClient {
				contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": clientError.Detail})
				return
			}
			logger.Error("oauth url generation failed",
				zap.String("provider", providerName),
				zap.Error(urlErr))
			contextGin.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"detail": "Failed to generate OAuth login URL"})
			return
		}
		contextGin.JSON(http.StatusOK, gin.H{"url": authorizeURL})
	})

	router.GET("/auth/:provider/callback", func(contextGin *gin.Context) {
		providerName := contextGin.Param("provider")
		code := contextGin.Query("code")
		state := contextGin.Query("state")
		tokenResponse, callbackErr := orchestrator.OAuthCallback(contextGin.Request.Context(), providerName, code, state)
		if callbackErr != nil {
			if clientError, isClient := authcore.AsClientError(callbackErr); isClient {
				contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": clientError.Detail})
				return
			}
			logger.Error("oauth callback failed",
				zap.String("provider", providerName),
				zap.Error(callbackErr))
			contextGin.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"detail": fmt.Sprintf("Failed to authenticate with %s", providerName)})
			return
		}
		contextGin.JSON(http.StatusOK, tokenResponse)
	})
}

// RequireBearerToken validates the Authorization header and injects the
// subject email. Verification failure is a 401, never a 500.
func RequireBearerToken(orchestrator *service.Service) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		headerValue := contextGin.GetHeader("Authorization")
		if !strings.HasPrefix(headerValue, "Bearer ") {
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Could not validate credentials"})
			return
		}
		subjectEmail, valid := orchestrator.VerifySubject(strings.TrimPrefix(headerValue, "Bearer "))
		if !valid {
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Could not validate credentials"})
			return
		}
		contextGin.Set(subjectContextKey, subjectEmail)
		contextGin.Next()
	}
}

// HandleCurrentUser resolves the authenticated subject to its user record.
func HandleCurrentUser(orchestrator *service.Service, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(contextGin *gin.Context) {
		subjectValue, found := contextGin.Get(subjectContextKey)
		subjectEmail, ok := subjectValue.(string)
		if !found || !ok || subjectEmail == "" {
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Could not validate credentials"})
			return
		}
		currentUser, lookupErr := orchestrator.UserByEmail(contextGin.Request.Context(), subjectEmail)
		if lookupErr != nil {
			logger.Warn("current user lookup failed", zap.Error(lookupErr))
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Could not validate credentials"})
			return
		}
		contextGin.JSON(http.StatusOK, userResponse{
			ID:       currentUser.ID,
			Email:    currentUser.Email,
			FullName: currentUser.FullName,
		})
	}
}
