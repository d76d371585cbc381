// Package config loads, normalizes, and validates groundseg configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// CUDA_VISIBLE_DEVICES. The Config type centralizes every knob the trainer and
// CLI need: catalog resources, the pretrained model identifiers handed to the
// Python worker, training cadence, and fusion module geometry.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
