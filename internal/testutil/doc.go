// Package testutil contains helper builders and fakes used across tests to
// reduce boilerplate when constructing execution event logs, scripted stage
// agents and log capture. They are not intended for production usage.
package testutil
