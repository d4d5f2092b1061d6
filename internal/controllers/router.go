package controllers

import "net/http"

// RegisterRoutes wires the HTTP routes for this controller.
func (c *DefinitionsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("PUT /api/v1/definitions", c.RequireAuth(c.handleRegisterDefinition))
	mux.HandleFunc("GET /api/v1/definitions", c.RequireAuth(c.handleListDefinitions))
	mux.HandleFunc("GET /api/v1/definitions/{name}", c.RequireAuth(c.handleGetDefinitionByName))
}
func (c *ExecutionsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/executions", c.RequireAuth(c.handleStartExecution))
	mux.HandleFunc("POST /api/v1/executions/search", c.RequireAuth(c.handleSearchExecutions))
	mux.HandleFunc("GET /api/v1/executions/{id}", c.RequireAuth(c.handleGetExecutionById))
	mux.HandleFunc("GET /api/v1/executions/{id}/history", c.RequireAuth(c.handleGetExecutionHistory))
	mux.HandleFunc("POST /api/v1/executions/{id}/cancel", c.RequireAuth(c.handleCancelExecution))
}
func (c *ExecutorsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/executors", c.RequireAuth(c.handleGetExecutors))
}
func (c *UsersController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/users", c.RequireAuth(c.handleGetUsers))
	mux.HandleFunc("POST /api/v1/users", c.RequireAuth(c.handleCreateUser))
}
func (ac *AuthController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/login", ac.handleLogin)
}
