// Package client is the Go SDK for the FitBounty bot's HTTP API.
//
// It wraps the public query endpoints, the dry-run parser and the admin
// operations used by operators and the fitctl command line tool.
//
// # Reading challenges
//
//	c, err := client.New("http://localhost:8080")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	ch, err := c.UserChallenge(ctx, "npub1...")
//	fmt.Println(ch.Status, ch.Exercise.FullDescription)
//
// # Admin operations
//
// Admin routes require a session token. Exchange the admin secret once and
// the client attaches the token to every later request:
//
//	if _, err := c.AdminLogin(ctx, os.Getenv("FITBOUNTY_ADMIN_SECRET")); err != nil {
//	    log.Fatal(err)
//	}
//	_, err = c.RecordProgress(ctx, id, 3, true, "note1...")
//
// A token obtained earlier can be supplied directly with WithBearerToken.
//
// # Errors
//
// Requests that fail with 404 or 401 wrap ErrNotFound and ErrUnauthorized so
// callers can branch with errors.Is. Every non-2xx response is returned as an
// *APIError carrying the status code and the server's error message.
package client
