package actions

// A list of status codes used inside the application. For more details see: https://httpstatuses.com/

// OK - success
const OK = 200

// Created - resource created
const Created = 201

// BadRequest - sent when a bad request was submitted by the client
const BadRequest = 400

// Unauthorized - the caller did not identify itself
const Unauthorized = 401

// NotFound - the resource identified by the given ID does not exist
const NotFound = 404

// Conflict - the request collides with the current state of the tree
const Conflict = 409

// ValidationFailed - the request did not pass field verification
const ValidationFailed = 422

// ServerError - internal server error
const ServerError = 500

// ServiceUnavailable - the operation is switched off
const ServiceUnavailable = 503
