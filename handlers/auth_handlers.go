package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"storefront/api/logger"
	"storefront/api/middleware"
	"storefront/api/models"
	"storefront/api/store"
	"storefront/api/tracking"
	"storefront/api/utils"
)

// CustomerStore is the persistence the auth handlers need.
type CustomerStore interface {
	CreateCustomer(ctx context.Context, email string, hashedPassword []byte) (*models.Customer, error)
	GetCustomerByEmail(ctx context.Context, email string) (*models.Customer, error)
	GetCustomerByID(ctx context.Context, id int64) (*models.Customer, error)
}

type AuthHandlers struct {
	Customers    CustomerStore
	JWT          *utils.JWTManager
	CookieSecure bool
	log          zerolog.Logger
}

func NewAuthHandlers(customers CustomerStore, jwt *utils.JWTManager, cookieSecure bool) *AuthHandlers {
	return &AuthHandlers{
		Customers:    customers,
		JWT:          jwt,
		CookieSecure: cookieSecure,
		log:          logger.Component("auth"),
	}
}

func (h *AuthHandlers) Signup(c *gin.Context) {
	var req models.SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to hash password")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process password"})
		return
	}

	customer, err := h.Customers.CreateCustomer(c.Request.Context(), req.Email, hashedPassword)
	if err != nil {
		if errors.Is(err, store.ErrCustomerExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "Customer with this email already exists"})
			return
		}
		h.log.Error().Err(err).Msg("failed to create customer")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to register customer"})
		return
	}

	if !h.issueToken(c, customer) {
		return
	}
	tracking.Emit(c, tracking.CustomerRegistered{CustomerID: customer.ID})

	h.log.Info().Int64("customer_id", customer.ID).Msg("customer registered")
	c.JSON(http.StatusCreated, gin.H{"message": "Customer registered successfully", "customer": customer})
}

// Login handles customer authentication and JWT token creation.
func (h *AuthHandlers) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	customer, err := h.Customers.GetCustomerByEmail(c.Request.Context(), req.Email)
	if err != nil {
		if !errors.Is(err, store.ErrCustomerNotFound) {
			h.log.Error().Err(err).Msg("login lookup failed")
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	if err := bcrypt.CompareHashAndPassword(customer.HashedPassword, []byte(req.Password)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	if !h.issueToken(c, customer) {
		return
	}
	// Admin logins are not customer sessions.
	if customer.Role == models.RoleAdmin {
		tracking.Emit(c, tracking.AdminLoggedIn{AdminID: customer.ID})
	} else {
		tracking.Emit(c, tracking.CustomerLoggedIn{CustomerID: customer.ID})
	}

	h.log.Info().Int64("customer_id", customer.ID).Msg("customer logged in")
	c.JSON(http.StatusOK, gin.H{"message": "Login successful", "customer": customer})
}

func (h *AuthHandlers) Logout(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.TokenCookie, "", -1, "/", "", h.CookieSecure, true)

	if id := middleware.CustomerID(c); id != 0 {
		tracking.Emit(c, tracking.CustomerLoggedOut{CustomerID: id})
	}
	c.JSON(http.StatusOK, gin.H{"message": "Logged out successfully"})
}

// Profile returns the authenticated customer.
func (h *AuthHandlers) Profile(c *gin.Context) {
	customer, err := h.Customers.GetCustomerByID(c.Request.Context(), middleware.CustomerID(c))
	if err != nil {
		if errors.Is(err, store.ErrCustomerNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Customer not found"})
			return
		}
		h.log.Error().Err(err).Msg("profile lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load profile"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"customer":   customer,
		"browser_id": tracking.BrowserID(c),
		"ip_address": tracking.ClientIP(c),
	})
}

func (h *AuthHandlers) issueToken(c *gin.Context, customer *models.Customer) bool {
	tokenString, err := h.JWT.GenerateJWT(customer)
	if err != nil {
		h.log.Error().Err(err).Int64("customer_id", customer.ID).Msg("failed to generate JWT")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate authentication token"})
		return false
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.TokenCookie, tokenString, int(h.JWT.TTL().Seconds()), "/", "", h.CookieSecure, true)
	return true
}
