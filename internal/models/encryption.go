package models

// NonceSize is the AES-GCM nonce length used for at-rest encryption of
// stored message bodies and workspace tokens.
const NonceSize = 12
