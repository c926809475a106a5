package rest

import (
	"github.com/gin-gonic/gin"
	mw "github.com/kasuganosora/questledger/middleware"
)

// Register mounts the progress routes on g. Admin routes are guarded by adminKey.
func Register(g *gin.RouterGroup, p *ProgressHandler, a *AdminHandler, adminKey string) {
	g.GET("", p.List)
	g.GET("/timeline", p.Timeline)
	g.GET("/rewards", p.Rewards)
	g.GET("/export", p.Export)

	q := g.Group("/quests/:id")
	q.GET("", p.Get)
	q.POST("/start", p.Start)
	q.POST("/complete", p.Complete)
	q.POST("/fail", p.Fail)
	q.PUT("/status", p.SetStatus)
	q.POST("/objectives/:oid/toggle", p.ToggleObjective)
	q.PUT("/note", p.SetNote)
	q.POST("/attachments", p.AddAttachment)
	q.DELETE("/attachments/:aid", p.RemoveAttachment)
	q.POST("/rewards", p.CollectReward)
	q.DELETE("", p.ResetQuest)

	if a == nil {
		return
	}
	admin := g.Group("", mw.AdminKey(adminKey))
	admin.POST("/import", a.Import)
	admin.POST("/reset", a.ResetAll)
	admin.GET("/status", a.Status)
	admin.POST("/tasks/:name/run", a.RunTask)
	admin.GET("/snapshots", a.ListSnapshots)
	admin.POST("/snapshots", a.TakeSnapshot)
	admin.POST("/snapshots/:id/restore", a.RestoreSnapshot)
}
