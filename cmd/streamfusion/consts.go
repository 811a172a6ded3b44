package main

// fiber c.Locals keys shared between middleware and handlers.
const (
	localsUserConfig   = "userConfig"
	localsAPIKeyRecord = "apiKeyRecord"
)
