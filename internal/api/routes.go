package api

func (s *Server) setupRoutes() {
	s.router.GET("/", s.healthHandler.WorkerInfo)
	s.router.GET("/health", s.healthHandler.HealthCheck)

	cameras := s.router.Group("/cameras")
	{
		cameras.GET("", s.cameraHandler.ListCameras)
		cameras.POST("", s.cameraHandler.AddCamera)
		cameras.POST("/start-all", s.cameraHandler.StartAll)
		cameras.POST("/stop-all", s.cameraHandler.StopAll)
		cameras.DELETE("/:id", s.cameraHandler.RemoveCamera)
		cameras.POST("/:id/start", s.cameraHandler.StartCamera)
		cameras.POST("/:id/stop", s.cameraHandler.StopCamera)
		cameras.GET("/:id/status", s.cameraHandler.GetCameraStatus)
	}

	events := s.router.Group("/events")
	{
		events.GET("", s.eventsHandler.ListEvents)
		events.POST("/export", s.eventsHandler.ExportEvents)
	}

	subjects := s.router.Group("/subjects")
	{
		subjects.GET("", s.subjectsHandler.ListSubjects)
		subjects.POST("", s.subjectsHandler.RegisterSubject)
		subjects.DELETE("/:id", s.subjectsHandler.RemoveSubject)
	}

	system := s.router.Group("/system")
	{
		system.GET("/stats", s.systemHandler.GetStats)
	}
}
