// Package config loads, normalizes, and validates reelsmith configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// OPENROUTER_API_KEY, ELEVENLABS_API_KEY, and REPLICATE_API_TOKEN. The Config
// type is passed explicitly to every constructor that needs it; nothing in the
// pipeline reads settings from globals.
package config
