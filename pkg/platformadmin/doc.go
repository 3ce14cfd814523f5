// Package platformadmin holds operator authority. The platform_admins table
// is its only source; there is no built-in identity. Platform admins can
// issue and list licenses and manage the admin list, and have no implicit
// rights inside servers.
package platformadmin
