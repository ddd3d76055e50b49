package camera

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const sessionName = "camstream"

type SensorStatus struct {
	ID          string `json:"id"`
	PixelFormat string `json:"pixel_format"`
}

// Status is a snapshot of the device state served by GET /status.
type Status struct {
	Model       string        `json:"model"`
	Name        string        `json:"name"`
	Initialized bool          `json:"initialized"`
	Started     bool          `json:"started"`
	Connected   bool          `json:"connected"`
	Port        uint32        `json:"port"`
	Sensor      *SensorStatus `json:"sensor"`
	Commands    []string      `json:"commands"`
}

func (d *Device) Status() Status {
	st := Status{
		Model:       d.Model().String(),
		Name:        d.ModelName(),
		Initialized: d.Initialized(),
		Started:     d.Started(),
		Connected:   d.IsConnected(),
		Port:        d.Port(),
		Commands:    d.Commands(),
	}
	if s := d.opts.Driver.Sensor(); s != nil {
		st.Sensor = &SensorStatus{ID: s.ID().String(), PixelFormat: s.PixelFormat().String()}
	}
	return st
}

type commandResult struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Result int    `json:"result"`
}

// controlRouter serves the control API on port+1.
func (d *Device) controlRouter() http.Handler {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger("control"))

	var api gin.IRoutes = router
	if d.opts.ControlUser != "" {
		secret := d.opts.SessionSecret
		if len(secret) == 0 {
			secret = []byte(uuid.NewString())
		}
		router.Use(sessions.Sessions(sessionName, cookie.NewStore(secret)))
		router.POST("/login", d.login)
		router.POST("/logout", d.logout)
		api = router.Group("/", d.authRequired())
	}
	api.GET("/status", d.handleStatus)
	api.POST("/command", d.handleCommand)
	return router
}

// authRequired accepts a login session or BasicAuth credentials.
func (d *Device) authRequired() gin.HandlerFunc {
	basic := gin.BasicAuth(gin.Accounts{d.opts.ControlUser: d.opts.ControlPassword})
	return func(c *gin.Context) {
		if sessions.Default(c).Get("user") != nil {
			c.Next()
			return
		}
		basic(c)
	}
}

func (d *Device) login(c *gin.Context) {
	session := sessions.Default(c)
	if !equal(c.PostForm("username"), d.opts.ControlUser) || !equal(c.PostForm("password"), d.opts.ControlPassword) {
		c.String(http.StatusUnauthorized, "Invalid credentials")
		return
	}
	session.Set("user", d.opts.ControlUser)
	if err := session.Save(); err != nil {
		slog.Error("Failed to save session", "error", err)
		c.String(http.StatusInternalServerError, "Failed to save session")
		return
	}
	c.Status(http.StatusNoContent)
}

// equal compares credentials in constant time, as gin.BasicAuth does.
func equal(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func (d *Device) logout(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	if err := session.Save(); err != nil {
		slog.Error("Failed to clear session", "error", err)
	}
	c.Status(http.StatusNoContent)
}

func (d *Device) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, d.Status())
}

func (d *Device) handleCommand(c *gin.Context) {
	name := c.PostForm("name")
	if name == "" {
		name = c.Query("name")
	}
	value := c.PostForm("value")
	if value == "" {
		value = c.Query("value")
	}

	_, span := tracer.Start(c.Request.Context(), "camera.command")
	defer span.End()
	span.SetAttributes(attribute.String("camera.command.name", name), attribute.String("camera.command.value", value))

	if name == "" {
		span.SetStatus(codes.Error, "missing name")
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing command name"})
		return
	}

	rc := d.ApplyCommand(name, value)
	span.SetAttributes(attribute.Int("camera.command.result", rc))

	status := http.StatusOK
	if rc != 0 {
		status = http.StatusBadRequest
		span.SetStatus(codes.Error, "command failed")
	}
	c.JSON(status, commandResult{Name: name, Value: value, Result: rc})
}
