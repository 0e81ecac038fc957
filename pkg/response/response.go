package response

import "github.com/gin-gonic/gin"

// JSON envelope helpers shared by the REST handlers.

func OK(c *gin.Context, data interface{}) {
	c.JSON(200, data)
}

func Error(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}
