// Package facematch provides bounding-box geometry and person-name
// normalization shared by the tracker, the detector client and the API.
package facematch
