// Package training runs the supervised loop that fits the fusion module.
//
// Each step picks a training class, generates an image for its prompt while
// capturing diffusion features, embeds the prompt, segments the image with the
// detector, and predicts a mask with the fusion module. When the detector found
// the class, its first instance mask supervises one optimizer step; otherwise
// the step is skipped with a warning. Sample images and checkpoints are written
// on fixed cadences into the run directory.
//
// The loop is strictly sequential. Every collaborator is an interface so tests
// can drive it with stubs.
package training
