package core

type ctxKey string

// CtxKeyUsername carries the authenticated username through request handling.
const CtxKeyUsername = ctxKey("username")
