// Package weapp implements transport.Sender for the mini-program subscribe-message channel.
package weapp
