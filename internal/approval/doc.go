// Package approval finalizes reviewed scan jobs. The gate moves the
// pending preview into the gallery under a collision-resistant name,
// persists the artifact record, and compensates manually when the two
// steps cannot both land.
package approval
