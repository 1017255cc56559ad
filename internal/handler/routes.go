package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-gradebook/internal/middleware"
)

// Routes groups the handlers mounted under the API prefix.
type Routes struct {
	Gradebooks *GradebookHandler
	Exports    *ExportHandler
	Tokens     middleware.TokenValidator
}

// Register mounts every API route on api. All routes require a bearer token; administrative
// routes additionally require an ADMIN or SECRETARY role.
func (r Routes) Register(api *gin.RouterGroup) {
	admin := middleware.RequireAdministrator()
	secured := api.Group("", middleware.JWT(r.Tokens))

	gb := secured.Group("/gradebooks")
	gb.POST("", r.Gradebooks.Create)
	gb.GET("/:id", r.Gradebooks.Get)
	gb.GET("/:id/summary", r.Gradebooks.Summary)

	gb.PUT("/:id/scores", r.Gradebooks.SetScore)
	gb.DELETE("/:id/scores", r.Gradebooks.ClearScore)
	gb.PUT("/:id/comments", r.Gradebooks.SetComment)

	gb.POST("/:id/columns", r.Gradebooks.AddColumn)
	gb.PATCH("/:id/columns/:columnId", r.Gradebooks.UpdateColumn)
	gb.POST("/:id/columns/:columnId/duplicate", r.Gradebooks.DuplicateColumn)
	gb.POST("/:id/columns/:columnId/move", r.Gradebooks.MoveColumn)
	gb.DELETE("/:id/columns/:columnId", r.Gradebooks.RemoveColumn)

	gb.POST("/:id/students", r.Gradebooks.AddStudent)
	gb.PATCH("/:id/students/:studentId", r.Gradebooks.RenameStudent)
	gb.DELETE("/:id/students/:studentId", r.Gradebooks.RemoveStudent)

	gb.POST("/:id/categories", r.Gradebooks.AddCategory)
	gb.PATCH("/:id/categories/:categoryId", r.Gradebooks.UpdateCategory)
	gb.DELETE("/:id/categories/:categoryId", r.Gradebooks.RemoveCategory)

	gb.PUT("/:id/terms/:termId", r.Gradebooks.SetTermWeight)
	gb.PUT("/:id/current-term", r.Gradebooks.SetCurrentTerm)
	gb.PUT("/:id/drop-lowest", r.Gradebooks.SetDropLowest)

	gb.POST("/:id/undo", r.Gradebooks.Undo)
	gb.POST("/:id/redo", r.Gradebooks.Redo)
	gb.POST("/:id/save", r.Gradebooks.Save)
	gb.POST("/:id/import", r.Gradebooks.Import)
	gb.POST("/:id/export", r.Gradebooks.Export)

	gb.POST("/:id/status", r.Gradebooks.Transition)
	gb.PUT("/:id/lock", admin, r.Gradebooks.SetLocked)
	gb.PUT("/:id/edit-window", admin, r.Gradebooks.SetEditWindow)

	secured.GET("/exports/:token", r.Exports.Download)
}
