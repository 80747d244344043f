// Package router implements routing.Target for a Keenetic router.
//
// HTTPTarget submits each route as one authenticated GET to the LuCI routes
// page and retries any failure except an authentication rejection; a route
// that still fails is reported and the batch moves on.
//
// SSHTarget keeps one SSH connection for the whole run and, for each route,
// runs "no ip route" followed by "ip route ... <interface>" so that a stale
// route for the same block is replaced. Only a closed channel is retried;
// any other command failure aborts the batch.
//
// DryRunTarget logs the commands SSHTarget would run.
package router
