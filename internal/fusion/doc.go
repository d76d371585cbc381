// Package fusion implements the trainable module that turns captured diffusion
// features and a prompt embedding into a single-channel segmentation logit map.
//
// Each feature map is resized to a common square grid and concatenated along
// channels. A 1x1 projection with ReLU maps the stack to hidden channels, the
// mean-pooled prompt embedding is projected to a query vector of the same
// width, and the per-pixel logit is the scaled dot product of the two plus an
// output bias. Logits are finally resized to the generated image size.
//
// Gradients are computed by hand in Backward; matrix products use gonum.
package fusion
