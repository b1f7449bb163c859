// Package llm holds the provider-neutral request and response types used to
// call chat, embedding and image models. Concrete providers live in
// subpackages.
package llm
