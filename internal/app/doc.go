// Package app wires the management kernel into a process: the registration
// registry with the compiled-in subsystems, the controller and its service
// container, metrics and tracing, the boot batch and the health/metrics HTTP
// server. It is decoupled from any specific entrypoint like a CLI.
package app
