// Package network fetches responses from the origin of the web app, either
// over HTTP from an upstream server or from an in-process handler.
package network
