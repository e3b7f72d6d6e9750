package registry

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

type paramBody struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// Graph names carry slashes, so they travel in query strings, not path params.
func (s *Server) registerRoutes() {
	r := s.router

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, Health{
			Status:   "ok",
			MasterID: s.cfg.MasterID,
			URI:      s.URI().String(),
			Uptime:   time.Since(s.started).String(),
			Nodes:    s.graph.nodeCount(),
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")

	api.GET("/uri", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"uri": s.URI().String()})
	})

	api.GET("/nodes", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"nodes": s.graph.listNodes()})
	})

	api.POST("/nodes", func(c *gin.Context) {
		var body NodeInfo
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		info, err := s.graph.registerNode(body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		log.Debug().Str("master", s.cfg.MasterID).Str("node", info.Name).Msg("registry.Server node registered")
		c.JSON(http.StatusOK, info)
	})

	api.DELETE("/nodes", func(c *gin.Context) {
		name := c.Query("name")
		if !s.graph.unregisterNode(name) {
			c.JSON(http.StatusNotFound, gin.H{"error": ErrNodeNotFound.Error()})
			return
		}
		log.Debug().Str("master", s.cfg.MasterID).Str("node", name).Msg("registry.Server node unregistered")
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api.GET("/services", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"services": s.graph.listServices()})
	})

	api.GET("/services/lookup", func(c *gin.Context) {
		info, ok := s.graph.lookupService(c.Query("name"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": ErrServiceNotFound.Error()})
			return
		}
		c.JSON(http.StatusOK, info)
	})

	api.POST("/services", func(c *gin.Context) {
		var body ServiceInfo
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		info, err := s.graph.registerService(body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, info)
	})

	api.DELETE("/services", func(c *gin.Context) {
		if !s.graph.unregisterService(c.Query("name")) {
			c.JSON(http.StatusNotFound, gin.H{"error": ErrServiceNotFound.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api.GET("/topics", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"topics": s.graph.listTopics()})
	})

	api.POST("/topics/publish", func(c *gin.Context) {
		var body TopicMessage
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		msg, err := s.graph.publish(body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, msg)
	})

	api.GET("/topics/latest", func(c *gin.Context) {
		msg, ok := s.graph.latest(c.Query("topic"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": ErrTopicNotFound.Error()})
			return
		}
		c.JSON(http.StatusOK, msg)
	})

	api.GET("/params", func(c *gin.Context) {
		key := CanonicalKey(c.Query("key"))
		value, ok, err := s.store.Get(c.Request.Context(), key)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": ErrParamNotFound.Error()})
			return
		}
		c.JSON(http.StatusOK, paramBody{Key: key, Value: value})
	})

	api.PUT("/params", func(c *gin.Context) {
		var body struct {
			Key   string          `json:"key"`
			Value json.RawMessage `json:"value"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		var value any
		if len(body.Value) > 0 {
			if err := json.Unmarshal(body.Value, &value); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}
		if err := s.store.Set(c.Request.Context(), body.Key, value); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, ErrParamKeyRequired) {
				status = http.StatusBadRequest
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api.DELETE("/params", func(c *gin.Context) {
		if err := s.store.Delete(c.Request.Context(), c.Query("key")); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api.GET("/params/names", func(c *gin.Context) {
		names, err := s.store.Names(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"names": names})
	})
}
