package api

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"deptportal/internal/auth"
)

type signInRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) signIn(c *gin.Context) {
	var req signInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := s.Auth.SignIn(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) signUp(c *gin.Context) {
	var reg auth.Registration
	if err := c.ShouldBindJSON(&reg); err != nil {
		badRequest(c, err)
		return
	}
	p, err := s.Auth.SignUp(c.Request.Context(), reg)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"principal": p,
		"message":   "Registration received. You can sign in once an administrator approves your account.",
	})
}

func (s *Server) signOut(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c)
	if err := s.Auth.SignOut(c.Request.Context(), claims.SessionID()); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// me serves the dashboard snapshot cached at sign-in.
func (s *Server) me(c *gin.Context) {
	snap, ok := auth.SessionFrom(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "not signed in"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"userType":    snap.UserType,
		"email":       snap.Email,
		"currentUser": snap.CurrentUser,
		"signedInAt":  snap.CreatedAt,
	})
}

// importRoster loads "Roll Number,Name,Year" rows from a multipart "file" or the raw body.
func (s *Server) importRoster(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSheetBytes)
	var src io.Reader = c.Request.Body
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		fh, err := c.FormFile("file")
		if err != nil {
			badRequest(c, err)
			return
		}
		f, err := fh.Open()
		if err != nil {
			badRequest(c, err)
			return
		}
		defer f.Close()
		src = f
	}
	res, err := s.Auth.ImportRoster(c.Request.Context(), src)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
