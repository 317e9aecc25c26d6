//go:build js && wasm

package keys

const sealAlgorithm = algXChaCha
